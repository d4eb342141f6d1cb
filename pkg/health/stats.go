// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mbeema/nhook/pkg/bridge"
)

// Reporter is the bridge as seen by the health server.
type Reporter interface {
	State() bridge.State
	Snapshot(ctx context.Context) bridge.Snapshot
	Counters() *bridge.Counters
}

// Stats tracks self-monitoring counters for the host.
type Stats struct {
	startTime time.Time

	ConfigReloads atomic.Int64
	StatusQueries atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Uptime returns host uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds  float64
	Goroutines     int
	MemorySysBytes uint64
	ConfigReloads  int64
	StatusQueries  int64
	InitAttempts   int64
	InitFailures   int64
	Queries        int64
	Signs          int64
	SignFailures   int64
	Ready          bool
	Activation     string
}

// Snapshot returns current stats, including the bridge's counters and state.
func (s *Stats) Snapshot(ctx context.Context, r Reporter) Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := Snapshot{
		UptimeSeconds:  s.Uptime().Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		MemorySysBytes: memStats.Sys,
		ConfigReloads:  s.ConfigReloads.Load(),
		StatusQueries:  s.StatusQueries.Load(),
	}
	if r == nil {
		return snap
	}

	c := r.Counters()
	snap.InitAttempts = c.InitAttempts.Load()
	snap.InitFailures = c.InitFailures.Load()
	snap.Queries = c.Queries.Load()
	snap.Signs = c.Signs.Load()
	snap.SignFailures = c.SignFailures.Load()

	b := r.Snapshot(ctx)
	snap.Ready = b.State == bridge.Ready.String()
	snap.Activation = b.Activation
	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics(ctx context.Context, r Reporter) string {
	return prometheusFormat(s.Snapshot(ctx, r))
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "nhook_uptime_seconds", "gauge", "Host uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "nhook_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "nhook_memory_sys_bytes", "gauge", "Memory obtained from the OS in bytes", float64(snap.MemorySysBytes))
	b = appendMetric(b, "nhook_config_reloads_total", "counter", "Total config reloads applied", float64(snap.ConfigReloads))
	b = appendMetric(b, "nhook_bridge_init_attempts_total", "counter", "Total engine initialization attempts", float64(snap.InitAttempts))
	b = appendMetric(b, "nhook_bridge_init_failures_total", "counter", "Total failed engine initializations", float64(snap.InitFailures))
	b = appendMetric(b, "nhook_bridge_queries_total", "counter", "Total activation queries", float64(snap.Queries))
	b = appendMetric(b, "nhook_bridge_signs_total", "counter", "Total sign calls", float64(snap.Signs))
	b = appendMetric(b, "nhook_bridge_sign_failures_total", "counter", "Total failed sign calls", float64(snap.SignFailures))
	b = appendMetric(b, "nhook_bridge_ready", "gauge", "1 when the engine is initialized", boolFloat(snap.Ready))
	b = appendMetric(b, "nhook_engine_active", "gauge", "1 when at least one target is intercepted", boolFloat(snap.Activation == "active"))
	return string(b)
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
