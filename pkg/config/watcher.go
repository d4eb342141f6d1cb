// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader watches the configuration source for YAML changes and hands the
// freshly loaded config to onChange. A directory source is reloaded through
// LoadDir; a file source through Load, watching its parent directory so that
// editors replacing the file are still seen.
type Reloader struct {
	dir      string
	file     string // base name when watching a single file
	onChange func(*Config, string)
	logger   *zap.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReloader creates a reloader for path, which may be a config directory
// or a single YAML file. onChange receives the merged config and the name of
// the file that triggered the reload.
func NewReloader(path string, isDir bool, onChange func(*Config, string), logger *zap.Logger) *Reloader {
	r := &Reloader{
		onChange: onChange,
		logger:   logger,
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
	}
	if isDir {
		r.dir = path
	} else {
		r.dir = filepath.Dir(path)
		r.file = filepath.Base(path)
	}
	return r
}

// Start begins watching for changes.
func (r *Reloader) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = fsw

	if err := fsw.Add(r.dir); err != nil {
		fsw.Close()
		return err
	}

	go r.loop(ctx)
	r.logger.Info("config reloader started", zap.String("dir", r.dir), zap.String("file", r.file))
	return nil
}

// Stop shuts down the reloader. Safe to call more than once.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

func (r *Reloader) relevant(name string) bool {
	base := filepath.Base(name)
	if r.file != "" {
		return base == r.file
	}
	return strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml")
}

func (r *Reloader) loop(ctx context.Context) {
	var debounceTimer *time.Timer

	stopTimer := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			changed := filepath.Base(event.Name)
			r.logger.Debug("config file changed", zap.String("file", changed))

			// Debounce: reset timer on each event
			stopTimer()
			debounceTimer = time.AfterFunc(r.debounce, func() {
				r.reload(changed)
			})

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("config reloader error", zap.Error(err))

		case <-ctx.Done():
			stopTimer()
			return

		case <-r.stopCh:
			stopTimer()
			return
		}
	}
}

func (r *Reloader) reload(changedFile string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		cfg *Config
		err error
	)
	if r.file != "" {
		cfg, err = Load(filepath.Join(r.dir, r.file))
	} else {
		cfg, err = LoadDir(r.dir)
	}
	if err != nil {
		r.logger.Error("config reload failed", zap.String("file", changedFile), zap.Error(err))
		return
	}

	r.logger.Info("config reloaded", zap.String("trigger", changedFile))
	r.onChange(cfg, changedFile)
}
