// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package engine

import (
	"context"
	"fmt"
	"os"
	"time"
)

// HostContext is what the host hands the engine at initialization.
type HostContext struct {
	// DataDir is the host-owned directory the engine may write into
	// (trace log). It must exist.
	DataDir string

	// PID of the host. Zero means the current process.
	PID int
}

// Validate checks that the context is usable.
func (h *HostContext) Validate() error {
	if h == nil {
		return fmt.Errorf("%w: nil", ErrContextInvalid)
	}
	if h.DataDir == "" {
		return fmt.Errorf("%w: empty data dir", ErrContextInvalid)
	}
	fi, err := os.Stat(h.DataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContextInvalid, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrContextInvalid, h.DataDir)
	}
	if h.PID < 0 {
		return fmt.Errorf("%w: pid %d", ErrContextInvalid, h.PID)
	}
	return nil
}

func (h *HostContext) pid() int {
	if h.PID == 0 {
		return os.Getpid()
	}
	return h.PID
}

// Liveness is the engine's answer to "are your hooks working right now".
type Liveness struct {
	// Armed is false when hooks are switched to pass-through.
	Armed         bool
	Targets       int
	Intercepting  int
	LastHeartbeat time.Time
}

// Active reports whether at least one target is being intercepted.
func (l Liveness) Active() bool {
	return l.Armed && l.Intercepting > 0
}

// Native is the call boundary of a loaded hook engine. Implementations may
// panic; Handle converts panics into typed errors.
type Native interface {
	// Name returns the engine flavour (e.g. "preload", "stub").
	Name() string

	// Setup performs the one-time native initialization.
	Setup(ctx context.Context, host *HostContext) error

	// Probe is the live interception check.
	Probe(ctx context.Context) (Liveness, error)

	// Sign runs the engine's keyed signing primitive.
	Sign(token string) (string, error)

	// Close releases native resources at process teardown.
	Close() error
}

// Loader locates and validates a native engine without initializing it.
type Loader interface {
	Load(ctx context.Context) (Native, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Native, error)

func (f LoaderFunc) Load(ctx context.Context) (Native, error) { return f(ctx) }
