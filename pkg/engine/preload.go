// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mbeema/nhook/pkg/config"
	"github.com/mbeema/nhook/pkg/hook"
	"github.com/mbeema/nhook/pkg/redact"
	"github.com/mbeema/nhook/pkg/signer"
	"go.uber.org/zap"
)

// PreloadLoader finds the engine shared library that targets load through
// the platform preload variable, and checks that it exports the entry point.
type PreloadLoader struct {
	engine   config.EngineConfig
	signer   config.SignerConfig
	injector *hook.Injector
	logger   *zap.Logger
}

var _ Loader = (*PreloadLoader)(nil)

// NewPreloadLoader creates a loader for the preload engine.
func NewPreloadLoader(cfg *config.Config, logger *zap.Logger) *PreloadLoader {
	return &PreloadLoader{
		engine:   cfg.Engine,
		signer:   cfg.Signer,
		injector: hook.NewInjector(cfg.Engine.LibraryPath, cfg.Engine.SocketPath, logger),
		logger:   logger,
	}
}

// Load locates the library, verifies its entry point and fingerprints it.
func (l *PreloadLoader) Load(ctx context.Context) (Native, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNativeLoadFailure, err)
	}

	lib, err := l.injector.FindLibrary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNativeLoadFailure, err)
	}

	if sym := l.engine.EntrySymbol; sym != "" {
		addr, err := LookupEntry(lib, sym)
		if err != nil {
			return nil, fmt.Errorf("%w: entry point: %v", ErrNativeLoadFailure, err)
		}
		l.logger.Debug("engine entry point found",
			zap.String("library", lib),
			zap.String("symbol", sym),
			zap.String("addr", fmt.Sprintf("0x%x", addr)),
		)
	}

	id, err := Identity(lib)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNativeLoadFailure, err)
	}

	l.logger.Info("engine library located",
		zap.String("library", lib),
		zap.String("identity", hex.EncodeToString(id[:8])),
	)

	return &preloadEngine{
		engine:   l.engine,
		signer:   l.signer,
		library:  lib,
		identity: id,
		logger:   l.logger,
	}, nil
}

// preloadEngine is the host side of the preload engine: the control page
// targets map, the listener they report to, and the attestation key.
type preloadEngine struct {
	engine   config.EngineConfig
	signer   config.SignerConfig
	library  string
	identity []byte
	logger   *zap.Logger

	hostPID int
	cancel  context.CancelFunc
	manager *hook.Manager
	control *hook.ControlPage
	trace   *hook.TraceLog
	scrub   *redact.Redactor
	keys    *signer.Signer
}

func (e *preloadEngine) Name() string { return "preload" }

// Setup leaves partially created resources for Close on failure.
func (e *preloadEngine) Setup(ctx context.Context, host *HostContext) (err error) {
	e.hostPID = host.pid()

	if e.signer.KeyFile != "" {
		e.keys, err = signer.NewFromFile(e.signer.KeyFile, e.identity, e.signer.Label)
	} else {
		e.keys, err = signer.NewRandom(e.identity, e.signer.Label)
	}
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}

	e.trace, err = hook.OpenTraceLog(host.DataDir)
	if err != nil {
		return err
	}
	e.scrub = redact.New(e.engine.RedactTracesEnabled(), nil)

	var mapped string
	if e.engine.VerifyMappingsEnabled() {
		mapped = e.library
	}
	e.manager = hook.NewManager(hook.ManagerOptions{
		SocketPath:   e.engine.SocketPath,
		Library:      mapped,
		StaleAfter:   e.engine.HeartbeatTimeout,
		VerifySender: e.engine.VerifySenderEnabled(),
		Checker:      hook.SystemChecker{},
		Callbacks: hook.Callbacks{
			OnTrace: func(pid, tid uint32, line []byte) {
				if err := e.trace.Write(pid, tid, e.scrub.Redact(line)); err != nil {
					e.logger.Debug("trace write failed", zap.Error(err))
				}
			},
		},
	}, e.logger)

	// The listener outlives the caller's context; Close stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	if err := e.manager.Start(runCtx); err != nil {
		return err
	}

	e.control, err = hook.CreateControlPage(filepath.Dir(e.engine.SocketPath))
	if err != nil {
		return err
	}
	if err := e.control.Arm(e.hostPID, time.Now()); err != nil {
		return err
	}

	e.logger.Info("engine armed",
		zap.String("control", e.control.Path()),
		zap.Int("host_pid", e.hostPID),
	)
	return nil
}

func (e *preloadEngine) Probe(ctx context.Context) (Liveness, error) {
	if err := ctx.Err(); err != nil {
		return Liveness{}, err
	}
	if e.control == nil || e.manager == nil {
		return Liveness{}, errors.New("engine not set up")
	}

	st, err := e.control.State()
	if err != nil {
		return Liveness{}, err
	}

	n, last := e.manager.Intercepting()
	return Liveness{
		// Another host re-creating the page takes the targets with it.
		Armed:         st.Armed && st.HostPID == e.hostPID,
		Targets:       len(e.manager.Targets()),
		Intercepting:  n,
		LastHeartbeat: last,
	}, nil
}

func (e *preloadEngine) Sign(token string) (string, error) {
	if e.keys == nil {
		return "", errors.New("signer not initialized")
	}
	return e.keys.Sign(token)
}

func (e *preloadEngine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.manager != nil {
		e.manager.Stop()
	}
	if e.control != nil {
		e.control.Disarm()
		e.control.Close()
		e.control.Remove()
	}
	if e.trace != nil {
		e.trace.Close()
	}
	if e.keys != nil {
		e.keys.Wipe()
	}
	return nil
}

// StubLoader always fails to load. Used where the preload engine cannot run;
// the host still starts and reports the engine as unavailable.
type StubLoader struct {
	reason string
}

var _ Loader = (*StubLoader)(nil)

// NewStubLoader creates a loader that reports reason on every attempt.
func NewStubLoader(reason string) *StubLoader {
	return &StubLoader{reason: reason}
}

func (s *StubLoader) Load(_ context.Context) (Native, error) {
	return nil, fmt.Errorf("%w: %s", ErrNativeLoadFailure, s.reason)
}

// NewLoader picks the best available loader for the platform.
func NewLoader(cfg *config.Config, logger *zap.Logger) Loader {
	support := Detect()
	if support.Available {
		logger.Info("preload engine supported",
			zap.String("platform", support.Platform),
			zap.String("kernel", support.KernelVersion),
		)
		return NewPreloadLoader(cfg, logger)
	}

	logger.Warn("preload engine unavailable, using stub loader",
		zap.String("platform", support.Platform),
		zap.String("reason", support.Reason),
	)
	return NewStubLoader(support.Reason)
}
