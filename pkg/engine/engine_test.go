// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

type fakeNative struct {
	setupErr   error
	setupPanic bool
	probePanic bool
	signPanic  bool
	signErr    error
	liveness   Liveness

	setups atomic.Int32
	closed atomic.Int32
}

func (f *fakeNative) Name() string { return "fake" }

func (f *fakeNative) Setup(_ context.Context, _ *HostContext) error {
	f.setups.Add(1)
	if f.setupPanic {
		panic("setup blew up")
	}
	return f.setupErr
}

func (f *fakeNative) Probe(_ context.Context) (Liveness, error) {
	if f.probePanic {
		panic("probe blew up")
	}
	return f.liveness, nil
}

func (f *fakeNative) Sign(token string) (string, error) {
	if f.signPanic {
		panic("sign blew up")
	}
	if f.signErr != nil {
		return "", f.signErr
	}
	return "sig:" + token, nil
}

func (f *fakeNative) Close() error {
	f.closed.Add(1)
	return nil
}

func loaderFor(n Native) Loader {
	return LoaderFunc(func(context.Context) (Native, error) { return n, nil })
}

func hostCtx(t *testing.T) *HostContext {
	t.Helper()
	return &HostContext{DataDir: t.TempDir()}
}

func TestInitializeSuccess(t *testing.T) {
	n := &fakeNative{}
	h := NewHandle(loaderFor(n), zap.NewNop())

	if h.IsLoaded() {
		t.Fatal("handle loaded before Initialize")
	}
	if err := h.Initialize(context.Background(), hostCtx(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !h.IsLoaded() {
		t.Error("IsLoaded = false after Initialize")
	}
	if h.Engine() != "fake" {
		t.Errorf("Engine() = %q", h.Engine())
	}
	if _, ok := h.InitTime(); !ok {
		t.Error("InitTime not set")
	}
}

func TestInitializeIdempotent(t *testing.T) {
	n := &fakeNative{}
	h := NewHandle(loaderFor(n), zap.NewNop())
	host := hostCtx(t)

	for i := 0; i < 3; i++ {
		if err := h.Initialize(context.Background(), host); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	if h.SetupRuns() != 1 {
		t.Errorf("SetupRuns = %d, want 1", h.SetupRuns())
	}
	if n.setups.Load() != 1 {
		t.Errorf("native setups = %d, want 1", n.setups.Load())
	}
}

func TestInitializeConcurrent(t *testing.T) {
	n := &fakeNative{}
	h := NewHandle(loaderFor(n), zap.NewNop())
	host := hostCtx(t)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.Initialize(context.Background(), host)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Initialize: %v", err)
		}
	}
	if h.SetupRuns() != 1 {
		t.Errorf("SetupRuns = %d, want 1", h.SetupRuns())
	}
}

func TestInitializeInvalidContext(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		host *HostContext
	}{
		{"nil", nil},
		{"empty dir", &HostContext{}},
		{"missing dir", &HostContext{DataDir: filepath.Join(t.TempDir(), "nope")}},
		{"not a dir", &HostContext{DataDir: file}},
		{"negative pid", &HostContext{DataDir: t.TempDir(), PID: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNative{}
			h := NewHandle(loaderFor(n), zap.NewNop())
			err := h.Initialize(context.Background(), tt.host)
			if !errors.Is(err, ErrContextInvalid) {
				t.Fatalf("err = %v, want ErrContextInvalid", err)
			}
			if h.IsLoaded() || h.SetupRuns() != 0 {
				t.Error("invalid context must not reach native setup")
			}
		})
	}
}

func TestInitializeLoadFailure(t *testing.T) {
	tests := []struct {
		name   string
		loader Loader
	}{
		{"error", LoaderFunc(func(context.Context) (Native, error) {
			return nil, errors.New("dlopen: no such file")
		})},
		{"nil native", LoaderFunc(func(context.Context) (Native, error) { return nil, nil })},
		{"panic", LoaderFunc(func(context.Context) (Native, error) { panic("bad elf") })},
		{"stub", NewStubLoader("unsupported platform")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandle(tt.loader, zap.NewNop())
			err := h.Initialize(context.Background(), hostCtx(t))
			if !errors.Is(err, ErrNativeLoadFailure) {
				t.Fatalf("err = %v, want ErrNativeLoadFailure", err)
			}
			if h.IsLoaded() {
				t.Error("handle loaded after load failure")
			}
		})
	}
}

func TestInitializeSetupFailureClosesNative(t *testing.T) {
	for _, n := range []*fakeNative{
		{setupErr: errors.New("bind: address in use")},
		{setupPanic: true},
	} {
		h := NewHandle(loaderFor(n), zap.NewNop())
		err := h.Initialize(context.Background(), hostCtx(t))
		if !errors.Is(err, ErrNativeLoadFailure) {
			t.Errorf("err = %v, want ErrNativeLoadFailure", err)
		}
		if n.closed.Load() != 1 {
			t.Errorf("native closed %d times, want 1", n.closed.Load())
		}
		if h.IsLoaded() {
			t.Error("handle loaded after setup failure")
		}
	}
}

func TestInitializeRetryAfterFailure(t *testing.T) {
	var attempts atomic.Int32
	good := &fakeNative{}
	loader := LoaderFunc(func(context.Context) (Native, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return good, nil
	})

	h := NewHandle(loader, zap.NewNop())
	host := hostCtx(t)
	if err := h.Initialize(context.Background(), host); err == nil {
		t.Fatal("first Initialize should fail")
	}
	if err := h.Initialize(context.Background(), host); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if !h.IsLoaded() {
		t.Error("handle not loaded after retry")
	}
}

func TestProbeAndSignBeforeInitialize(t *testing.T) {
	h := NewHandle(loaderFor(&fakeNative{}), zap.NewNop())

	if _, err := h.Probe(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Errorf("Probe err = %v, want ErrEngineNotReady", err)
	}
	if _, err := h.Sign("x"); !errors.Is(err, ErrEngineNotReady) {
		t.Errorf("Sign err = %v, want ErrEngineNotReady", err)
	}
}

func TestProbe(t *testing.T) {
	n := &fakeNative{liveness: Liveness{Armed: true, Targets: 2, Intercepting: 1}}
	h := NewHandle(loaderFor(n), zap.NewNop())
	if err := h.Initialize(context.Background(), hostCtx(t)); err != nil {
		t.Fatal(err)
	}

	l, err := h.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !l.Active() {
		t.Errorf("liveness %+v should be active", l)
	}
}

func TestProbePanic(t *testing.T) {
	n := &fakeNative{probePanic: true}
	h := NewHandle(loaderFor(n), zap.NewNop())
	if err := h.Initialize(context.Background(), hostCtx(t)); err != nil {
		t.Fatal(err)
	}

	if _, err := h.Probe(context.Background()); !errors.Is(err, ErrInternalFault) {
		t.Errorf("err = %v, want ErrInternalFault", err)
	}
}

func TestSign(t *testing.T) {
	n := &fakeNative{}
	h := NewHandle(loaderFor(n), zap.NewNop())
	if err := h.Initialize(context.Background(), hostCtx(t)); err != nil {
		t.Fatal(err)
	}

	sig, err := h.Sign("abc")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig != "sig:abc" {
		t.Errorf("Sign = %q", sig)
	}
}

func TestSignFaults(t *testing.T) {
	for _, n := range []*fakeNative{
		{signPanic: true},
		{signErr: errors.New("key wiped")},
	} {
		h := NewHandle(loaderFor(n), zap.NewNop())
		if err := h.Initialize(context.Background(), hostCtx(t)); err != nil {
			t.Fatal(err)
		}
		if _, err := h.Sign("abc"); !errors.Is(err, ErrInternalFault) {
			t.Errorf("err = %v, want ErrInternalFault", err)
		}
	}
}

func TestLivenessActive(t *testing.T) {
	tests := []struct {
		l    Liveness
		want bool
	}{
		{Liveness{}, false},
		{Liveness{Armed: true}, false},
		{Liveness{Intercepting: 3}, false},
		{Liveness{Armed: true, Intercepting: 1}, true},
	}
	for _, tt := range tests {
		if got := tt.l.Active(); got != tt.want {
			t.Errorf("%+v.Active() = %v, want %v", tt.l, got, tt.want)
		}
	}
}

func TestClose(t *testing.T) {
	n := &fakeNative{}
	h := NewHandle(loaderFor(n), zap.NewNop())

	if err := h.Close(); err != nil {
		t.Errorf("Close before Initialize: %v", err)
	}
	if err := h.Initialize(context.Background(), hostCtx(t)); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if n.closed.Load() != 1 {
		t.Errorf("native closed %d times, want 1", n.closed.Load())
	}
}
