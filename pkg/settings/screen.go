// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package settings

import (
	"context"
	"fmt"

	"github.com/mbeema/nhook/pkg/activation"
	"github.com/mbeema/nhook/pkg/config"
	"github.com/mbeema/nhook/pkg/diag"
	"github.com/mbeema/nhook/pkg/engine"
	"go.uber.org/zap"
)

// Bridge is the engine surface the screen drives.
type Bridge interface {
	Initialize(ctx context.Context, host *engine.HostContext) error
	QueryActivation(ctx context.Context) activation.Status
	Sign(token string) (string, error)
}

// MemoryFunc produces the memory diagnostic.
type MemoryFunc func(ctx context.Context) (diag.MemoryReport, error)

// Screen renders the module settings screen.
type Screen struct {
	bridge     Bridge
	host       *engine.HostContext
	labels     labels
	probeToken string
	memory     MemoryFunc
	logger     *zap.Logger
}

// NewScreen creates a settings screen. memory may be nil to use
// diag.CollectMemory.
func NewScreen(b Bridge, host *engine.HostContext, cfg config.SettingsConfig, memory MemoryFunc, logger *zap.Logger) *Screen {
	if memory == nil {
		memory = diag.CollectMemory
	}
	return &Screen{
		bridge:     b,
		host:       host,
		labels:     labelsFor(cfg.Locale),
		probeToken: cfg.ProbeToken,
		memory:     memory,
		logger:     logger,
	}
}

// Render queries the engine, initializes it, and fills every preference.
// The registry is always returned; an initialization error is returned
// alongside it and leaves the status preference disabled.
func (s *Screen) Render(ctx context.Context) (*Registry, error) {
	reg := newRegistry()

	s.logger.Debug("activation before init", zap.Stringer("status", s.bridge.QueryActivation(ctx)))

	initErr := s.bridge.Initialize(ctx, s.host)
	if initErr != nil {
		s.logger.Warn("engine initialization failed", zap.Error(initErr))
	}

	status := s.bridge.QueryActivation(ctx)
	p := reg.Get(ModuleStatus)
	p.Enabled = status == activation.Active
	if p.Enabled {
		p.Title = s.labels.statusActive
	} else {
		p.Title = s.labels.statusInactive
	}
	p.Summary = status.String()

	p = reg.Get(SignatureProbe)
	p.Title = s.labels.signature
	if sig, err := s.bridge.Sign(s.probeToken); err != nil {
		p.Summary = fmt.Sprintf(s.labels.signatureError, err)
	} else {
		p.Enabled = true
		p.Summary = sig
		s.logger.Debug("probe signature", zap.String("token", s.probeToken), zap.String("signature", sig))
	}

	p = reg.Get(MaxMemory)
	p.Title = s.labels.maxMemory
	if mr, err := s.memory(ctx); err != nil {
		p.Summary = fmt.Sprintf(s.labels.memoryError, err)
	} else {
		p.Enabled = true
		p.Summary = fmt.Sprintf("%d MB", mr.MaxMB())
		s.logger.Info("memory", zap.Uint64("max_mb", mr.MaxMB()), zap.Uint64("rss_mb", mr.RSS/(1024*1024)))
	}

	return reg, initErr
}
