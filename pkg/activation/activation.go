// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package activation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mbeema/nhook/pkg/engine"
	"go.uber.org/zap"
)

// Status is whether the hook engine is intercepting its targets.
type Status int

const (
	Unknown  Status = iota // engine never initialized
	Inactive               // loaded, but no working hook right now
	Active                 // at least one target intercepted
)

func (s Status) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Prober is the part of the engine handle the monitor reads.
type Prober interface {
	IsLoaded() bool
	Probe(ctx context.Context) (engine.Liveness, error)
}

// failureThreshold is how many probe failures in a row it takes before a
// previous good answer is dropped.
const failureThreshold = 2

// Monitor answers "is the engine intercepting right now". Answers are reused
// for ttl so a render cycle sees one value; Invalidate drops the cached
// answer after a state change. A single failed probe keeps the last good
// answer; only repeated failures read as Inactive.
type Monitor struct {
	prober Prober
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	cached   Status
	cachedAt time.Time
	valid    bool
	probes   int64

	lastGood Status
	haveGood bool
	failures int
}

// NewMonitor creates a monitor over prober. A zero ttl disables caching.
func NewMonitor(prober Prober, ttl time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		prober: prober,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Query returns the current activation status. It never fails: probe errors
// and faults read as Inactive.
func (m *Monitor) Query(ctx context.Context) Status {
	if !m.prober.IsLoaded() {
		return Unknown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.valid && now.Sub(m.cachedAt) < m.ttl {
		return m.cached
	}

	st, err := m.probe(ctx)
	m.probes++
	if err != nil {
		m.failures++
		if m.haveGood && m.failures < failureThreshold {
			m.logger.Debug("activation probe failed, keeping last answer",
				zap.Stringer("status", m.lastGood), zap.Error(err))
			st = m.lastGood
		} else {
			m.logger.Debug("activation probe failed",
				zap.Int("consecutive", m.failures), zap.Error(err))
			st = Inactive
		}
	} else {
		m.failures = 0
		m.lastGood, m.haveGood = st, true
	}
	if m.valid && st != m.cached {
		m.logger.Info("activation changed",
			zap.Stringer("from", m.cached),
			zap.Stringer("to", st),
		)
	}
	m.cached, m.cachedAt, m.valid = st, now, true
	return st
}

func (m *Monitor) probe(ctx context.Context) (st Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("activation probe panicked", zap.Any("panic", r))
			st, err = Inactive, fmt.Errorf("probe panic: %v", r)
		}
	}()

	l, err := m.prober.Probe(ctx)
	if err != nil {
		return Inactive, err
	}
	if l.Active() {
		return Active, nil
	}
	return Inactive, nil
}

// Invalidate forces the next Query to probe and forgets the last good answer.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	m.valid = false
	m.haveGood = false
	m.failures = 0
	m.mu.Unlock()
}

// Probes returns how many live probes have run.
func (m *Monitor) Probes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes
}
