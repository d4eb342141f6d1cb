// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/nhook/pkg/activation"
	"github.com/mbeema/nhook/pkg/engine"
	"go.uber.org/zap"
)

// State is the bridge lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready  // terminal
	Failed // retry allowed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Engine is the engine handle as seen by the bridge.
type Engine interface {
	Initialize(ctx context.Context, host *engine.HostContext) error
	IsLoaded() bool
	Engine() string
	Probe(ctx context.Context) (engine.Liveness, error)
	Sign(token string) (string, error)
}

// Counters tracks bridge calls for the health endpoint.
type Counters struct {
	InitAttempts atomic.Int64
	InitFailures atomic.Int64
	Queries      atomic.Int64
	Signs        atomic.Int64
	SignFailures atomic.Int64
}

// attempt is one in-flight Initialize shared by every concurrent caller.
type attempt struct {
	done chan struct{}
	err  error
}

// Bridge is the single surface the host calls: initialize once, query
// activation, sign diagnostics.
type Bridge struct {
	engine   Engine
	monitor  *activation.Monitor
	logger   *zap.Logger
	counters Counters

	mu       sync.Mutex
	inflight *attempt
	state    atomic.Int32
	readyAt  time.Time
}

// New creates a bridge over an engine handle and its activation monitor.
func New(eng Engine, monitor *activation.Monitor, logger *zap.Logger) *Bridge {
	return &Bridge{
		engine:  eng,
		monitor: monitor,
		logger:  logger,
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Counters returns the bridge call counters.
func (b *Bridge) Counters() *Counters {
	return &b.counters
}

// Initialize brings the engine up. Concurrent callers share one attempt and
// all see its result; once Ready, calls return nil immediately.
func (b *Bridge) Initialize(ctx context.Context, host *engine.HostContext) error {
	b.mu.Lock()
	if b.State() == Ready {
		b.mu.Unlock()
		return nil
	}
	if a := b.inflight; a != nil {
		b.mu.Unlock()
		<-a.done
		return a.err
	}

	a := &attempt{done: make(chan struct{})}
	b.inflight = a
	prev := b.State()
	b.state.Store(int32(Initializing))
	b.mu.Unlock()

	b.counters.InitAttempts.Add(1)
	b.logger.Debug("bridge initializing", zap.Stringer("from", prev))
	err := b.initialize(ctx, host)

	b.mu.Lock()
	if err != nil {
		b.counters.InitFailures.Add(1)
		b.state.Store(int32(Failed))
		b.logger.Warn("bridge initialization failed", zap.Error(err))
	} else {
		b.readyAt = time.Now()
		b.state.Store(int32(Ready))
		b.logger.Info("bridge ready", zap.String("engine", b.engine.Engine()))
	}
	a.err = err
	b.inflight = nil
	close(a.done)
	b.mu.Unlock()

	b.monitor.Invalidate()
	return err
}

func (b *Bridge) initialize(ctx context.Context, host *engine.HostContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: initialize panic: %v", engine.ErrNativeLoadFailure, r)
		}
	}()
	return b.engine.Initialize(ctx, host)
}

// QueryActivation reports whether the engine is intercepting. Unknown until
// the bridge is Ready.
func (b *Bridge) QueryActivation(ctx context.Context) activation.Status {
	b.counters.Queries.Add(1)
	if b.State() != Ready {
		return activation.Unknown
	}
	return b.monitor.Query(ctx)
}

// Sign returns the engine's signature over token. Fails with
// engine.ErrEngineNotReady unless the bridge is Ready.
func (b *Bridge) Sign(token string) (sig string, err error) {
	b.counters.Signs.Add(1)
	defer func() {
		if r := recover(); r != nil {
			sig, err = "", fmt.Errorf("%w: sign panic: %v", engine.ErrInternalFault, r)
		}
		if err != nil {
			b.counters.SignFailures.Add(1)
		}
	}()

	if b.State() != Ready {
		return "", engine.ErrEngineNotReady
	}
	return b.engine.Sign(token)
}

// Snapshot is a point-in-time view of the bridge for status reporting.
type Snapshot struct {
	State      string `json:"state"`
	Activation string `json:"activation"`
	Engine     string `json:"engine,omitempty"`
	ReadySince string `json:"ready_since,omitempty"`
}

// Snapshot returns the bridge state and current activation.
func (b *Bridge) Snapshot(ctx context.Context) Snapshot {
	st := b.State()
	s := Snapshot{
		State:      st.String(),
		Activation: activation.Unknown.String(),
	}
	if st == Ready {
		b.counters.Queries.Add(1)
		s.Activation = b.monitor.Query(ctx).String()
		b.mu.Lock()
		s.ReadySince = b.readyAt.UTC().Format(time.RFC3339)
		b.mu.Unlock()
		s.Engine = b.engine.Engine()
	}
	return s
}
