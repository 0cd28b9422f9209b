// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hdspe

import (
	"runtime/debug"
	"testing"
)

func TestVersion(t *testing.T) {
	const root = "github.com/go-lpc/hdspe"
	for _, tc := range []struct {
		name    string
		bi      *debug.BuildInfo
		version string
		sum     string
	}{
		{name: "nil"},
		{name: "no-deps", bi: &debug.BuildInfo{}},
		{
			name: "dep",
			bi: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: "golang.org/x/sys", Version: "v0.22.0"},
				{Path: root, Version: "v0.1.0", Sum: "h1:xxx"},
			}},
			version: "v0.1.0",
			sum:     "h1:xxx",
		},
		{
			name: "replace-path-version",
			bi: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: root, Version: "v0.1.0", Replace: &debug.Module{Path: "example.org/hdspe", Version: "v0.2.0", Sum: "h1:yyy"}},
			}},
			version: "example.org/hdspe v0.2.0",
			sum:     "h1:yyy",
		},
		{
			name: "replace-version",
			bi: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: root, Version: "v0.1.0", Replace: &debug.Module{Version: "v0.3.0"}},
			}},
			version: "v0.3.0",
		},
		{
			name: "replace-path",
			bi: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: root, Version: "v0.1.0", Replace: &debug.Module{Path: "../hdspe"}},
			}},
			version: "../hdspe",
		},
		{
			name: "replace-empty",
			bi: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: root, Version: "v0.1.0", Replace: &debug.Module{}},
			}},
			version: "v0.1.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			version, sum := versionOf(tc.bi)
			if version != tc.version || sum != tc.sum {
				t.Fatalf("invalid version: got=(%q, %q), want=(%q, %q)", version, sum, tc.version, tc.sum)
			}
		})
	}

	// test binaries are not built as dependencies.
	_, _ = Version()
}
