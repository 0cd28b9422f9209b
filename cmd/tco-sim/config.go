// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/go-lpc/hdspe/ltc"
	"github.com/go-lpc/hdspe/tco"
	"gopkg.in/yaml.v3"
)

type config struct {
	Output struct {
		Format  string `yaml:"format"`   // output LTC format, e.g. "25 fps"
		Rate48k bool   `yaml:"rate-48k"` // 48 kHz family of sample rates
		Wall    int64  `yaml:"wall-offset"`
	} `yaml:"output"`

	Audio struct {
		Speed   int `yaml:"speed"`   // 1, 2 or 4
		Latency int `yaml:"latency"` // period size is 2^(latency+6) frames
	} `yaml:"audio"`

	Input struct {
		Format string `yaml:"format"`
		Start  string `yaml:"start"` // first incoming time code
		Pull   int    `yaml:"pull"`  // pull factor, 1000 at nominal speed
		Off    bool   `yaml:"off"`   // no incoming time code
	} `yaml:"input"`

	Metrics string `yaml:"metrics"` // address of the metrics endpoint
	WAV     string `yaml:"wav"`     // output LTC dump
	Verbose bool   `yaml:"verbose"`
}

func newConfig() config {
	var cfg config
	cfg.Output.Format = "25 fps"
	cfg.Output.Rate48k = true
	cfg.Audio.Speed = 1
	cfg.Audio.Latency = 2
	cfg.Input.Format = "25 fps"
	cfg.Input.Start = "10:00:00:00"
	cfg.Input.Pull = 1000
	return cfg
}

func loadConfig(fname string) (config, error) {
	cfg := newConfig()
	if fname == "" {
		return cfg, cfg.validate()
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}

	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("could not decode config file %q: %w", fname, err)
	}

	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	f, err := ltc.ParseFormat(cfg.Output.Format)
	if err != nil {
		return fmt.Errorf("invalid output format: %w", err)
	}
	if _, err := f.Context(); err != nil {
		return fmt.Errorf("invalid output format: %w", err)
	}

	f, err = ltc.ParseFormat(cfg.Input.Format)
	if err != nil {
		return fmt.Errorf("invalid input format: %w", err)
	}
	if _, err := f.Context(); err != nil {
		return fmt.Errorf("invalid input format: %w", err)
	}

	if _, err := ltc.ParseString(cfg.Input.Start); err != nil {
		return fmt.Errorf("invalid input start time code: %w", err)
	}

	switch cfg.Audio.Speed {
	case 1, 2, 4:
	default:
		return fmt.Errorf("invalid speed %d: %w", cfg.Audio.Speed, tco.ErrInvalidPeriod)
	}
	if cfg.Audio.Latency < 0 || cfg.Audio.Latency > 7 {
		return fmt.Errorf("invalid latency %d", cfg.Audio.Latency)
	}
	if cfg.Input.Pull <= 0 {
		return fmt.Errorf("invalid pull factor %d", cfg.Input.Pull)
	}
	return nil
}
