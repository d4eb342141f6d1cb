// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// loaded is published once, atomically, after a successful Setup. Readers
// see either nothing or the complete engine.
type loaded struct {
	native Native
	at     time.Time
}

// Handle owns the process's hook engine. Construct one at the composition
// root and pass it to whoever needs it; it lives until process exit.
type Handle struct {
	loader Loader
	logger *zap.Logger

	mu        sync.Mutex // serializes Initialize
	state     atomic.Pointer[loaded]
	setupRuns atomic.Int64
}

// NewHandle creates an unloaded handle.
func NewHandle(loader Loader, logger *zap.Logger) *Handle {
	return &Handle{loader: loader, logger: logger}
}

// Initialize loads and sets up the native engine exactly once. Calls after a
// success return nil without touching the engine; failed attempts leave the
// handle unloaded so the caller may retry.
func (h *Handle) Initialize(ctx context.Context, host *HostContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Load() != nil {
		return nil
	}
	if err := host.Validate(); err != nil {
		return err
	}

	native, err := h.load(ctx)
	if err != nil {
		h.logger.Warn("engine load failed", zap.Error(err))
		return err
	}

	h.setupRuns.Add(1)
	start := time.Now()
	if err := h.setup(ctx, native, host); err != nil {
		h.logger.Warn("engine setup failed",
			zap.String("engine", native.Name()),
			zap.Error(err),
		)
		native.Close()
		return err
	}

	h.state.Store(&loaded{native: native, at: time.Now()})
	h.logger.Info("engine initialized",
		zap.String("engine", native.Name()),
		zap.String("data_dir", host.DataDir),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (h *Handle) load(ctx context.Context) (n Native, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, fmt.Errorf("%w: loader panic: %v", ErrNativeLoadFailure, r)
		}
	}()

	n, err = h.loader.Load(ctx)
	if err != nil {
		return nil, loadFailure(err)
	}
	if n == nil {
		return nil, fmt.Errorf("%w: loader returned no engine", ErrNativeLoadFailure)
	}
	return n, nil
}

func (h *Handle) setup(ctx context.Context, n Native, host *HostContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: setup panic: %v", ErrNativeLoadFailure, r)
		}
	}()

	if err := n.Setup(ctx, host); err != nil {
		return loadFailure(err)
	}
	return nil
}

// IsLoaded reports whether Initialize has succeeded. Never blocks.
func (h *Handle) IsLoaded() bool {
	return h.state.Load() != nil
}

// InitTime returns when the engine finished initializing.
func (h *Handle) InitTime() (time.Time, bool) {
	if s := h.state.Load(); s != nil {
		return s.at, true
	}
	return time.Time{}, false
}

// Engine returns the loaded engine's name, or "" before initialization.
func (h *Handle) Engine() string {
	if s := h.state.Load(); s != nil {
		return s.native.Name()
	}
	return ""
}

// SetupRuns returns how many times native setup was executed.
func (h *Handle) SetupRuns() int64 {
	return h.setupRuns.Load()
}

// Probe runs the engine's liveness check. Native faults come back as errors.
func (h *Handle) Probe(ctx context.Context) (l Liveness, err error) {
	s := h.state.Load()
	if s == nil {
		return Liveness{}, ErrEngineNotReady
	}

	defer func() {
		if r := recover(); r != nil {
			l, err = Liveness{}, fmt.Errorf("%w: probe panic: %v", ErrInternalFault, r)
		}
	}()
	return s.native.Probe(ctx)
}

// Sign runs the engine's signing primitive.
func (h *Handle) Sign(token string) (sig string, err error) {
	s := h.state.Load()
	if s == nil {
		return "", ErrEngineNotReady
	}

	defer func() {
		if r := recover(); r != nil {
			sig, err = "", fmt.Errorf("%w: sign panic: %v", ErrInternalFault, r)
		}
	}()

	sig, err = s.native.Sign(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternalFault, err)
	}
	if sig == "" {
		return "", fmt.Errorf("%w: empty signature", ErrInternalFault)
	}
	return sig, nil
}

// Close releases the native engine. Only for process teardown.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.state.Load()
	if s == nil {
		return nil
	}
	return s.native.Close()
}
