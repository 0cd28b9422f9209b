// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-lpc/hdspe/tco"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	addr string
	reg  *prometheus.Registry

	pull     prometheus.Gauge
	running  prometheus.Gauge
	offset   prometheus.Gauge
	frame    prometheus.Gauge
	latches  prometheus.Counter
	warnings prometheus.Counter
}

func newMetrics() *metrics {
	var (
		reg = prometheus.NewRegistry()
		fac = promauto.With(reg)
	)
	return &metrics{
		reg: reg,
		pull: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "tco",
			Name:      "pull_factor",
			Help:      "Incoming LTC pull factor (1000 at nominal speed, 0 when unknown).",
		}),
		running: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "tco",
			Name:      "output_running",
			Help:      "Whether the output time code is running.",
		}),
		offset: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "tco",
			Name:      "latch_offset_samples",
			Help:      "Offset of the last output latch, in samples.",
		}),
		frame: fac.NewGauge(prometheus.GaugeOpts{
			Namespace: "tco",
			Name:      "frame_count",
			Help:      "Audio frame count at the last period interrupt.",
		}),
		latches: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "tco",
			Name:      "latches_total",
			Help:      "Number of output latches issued.",
		}),
		warnings: fac.NewCounter(prometheus.CounterOpts{
			Namespace: "tco",
			Name:      "latch_offset_out_of_range_total",
			Help:      "Number of output latches with an offset out of the register range.",
		}),
	}
}

func (m *metrics) update(st tco.Status) {
	pull := 0
	if st.PullValid {
		pull = st.Pull
	}
	m.pull.Set(float64(pull))
	run := 0.0
	if st.Run {
		run = 1
	}
	m.running.Set(run)
	m.offset.Set(float64(st.Last.Offset))
	m.frame.Set(float64(st.PeriodFrame))
}

func (m *metrics) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              m.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not serve metrics on %q: %w", m.addr, err)
	}
	return nil
}
