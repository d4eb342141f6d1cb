// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mbeema/nhook/pkg/activation"
	"github.com/mbeema/nhook/pkg/bridge"
	"github.com/mbeema/nhook/pkg/config"
	"github.com/mbeema/nhook/pkg/engine"
	"github.com/mbeema/nhook/pkg/health"
	"github.com/mbeema/nhook/pkg/settings"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		if cmd, ok := commands[os.Args[1]]; ok {
			os.Exit(cmd(os.Args[2:]))
		}
	}
	os.Exit(runHost(os.Args[1:]))
}

// configSource holds the -config / -config-dir flags shared by every command.
type configSource struct {
	path string
	dir  string
}

func (c *configSource) register(fs *flag.FlagSet) {
	fs.StringVar(&c.path, "config", "", "path to configuration file")
	fs.StringVar(&c.dir, "config-dir", "", "path to config directory (multi-file mode with auto-reload)")
}

func (c *configSource) load() (*config.Config, error) {
	if c.dir != "" {
		return config.LoadDir(c.dir)
	}
	return loadConfig(c.path)
}

func runHost(args []string) int {
	var (
		src         configSource
		logLevel    string
		refresh     time.Duration
		showVersion bool
	)

	fs := flag.NewFlagSet("nhook", flag.ExitOnError)
	src.register(fs)
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.DurationVar(&refresh, "refresh", 0, "re-check activation at this interval (0 = only at startup)")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")
	fs.Parse(args)

	if showVersion {
		fmt.Printf("nhook %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	cfg, err := src.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Override log level from CLI
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, level, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("starting nhook host",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	dataDir, err := dataDirFor(cfg)
	if err != nil {
		logger.Error("failed to prepare data dir", zap.Error(err))
		return 1
	}

	// Composition root: the handle lives until this function returns.
	handle := engine.NewHandle(engine.NewLoader(cfg, logger), logger)
	defer handle.Close()

	monitor := activation.NewMonitor(handle, cfg.Activation.CacheTTL, logger)
	br := bridge.New(handle, monitor, logger)
	stats := health.NewStats()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var healthSrv *health.Server
	if cfg.Health.Enabled {
		healthSrv = health.NewServer(cfg.Health.Port, version, stats, br, logger)
		if err := healthSrv.Start(ctx); err != nil {
			logger.Error("failed to start health server", zap.Error(err))
			return 1
		}
		defer healthSrv.Stop()
	}

	host := &engine.HostContext{DataDir: dataDir}
	screen := settings.NewScreen(br, host, cfg.Settings, nil, logger)
	reg, err := screen.Render(ctx)
	printScreen(os.Stdout, reg, logger)
	if err != nil {
		// The host keeps running so /status reports the failure.
		logger.Warn("engine unavailable", zap.Error(err))
	}

	apply := func(newCfg *config.Config, trigger string) {
		level.SetLevel(parseLevel(newCfg.LogLevel))
		stats.ConfigReloads.Add(1)
		logger.Info("configuration applied",
			zap.String("trigger", trigger),
			zap.String("log_level", newCfg.LogLevel),
		)
	}

	var reloader *config.Reloader
	if src.dir != "" || src.path != "" {
		if src.dir != "" {
			reloader = config.NewReloader(src.dir, true, apply, logger)
		} else {
			reloader = config.NewReloader(src.path, false, apply, logger)
		}
		if err := reloader.Start(ctx); err != nil {
			logger.Error("failed to start config reloader", zap.Error(err))
			return 1
		}
		defer reloader.Stop()
	}

	var tick <-chan time.Time
	if refresh > 0 {
		t := time.NewTicker(refresh)
		defer t.Stop()
		tick = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// SIGHUP for config reload
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			return 0

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := src.load()
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			apply(newCfg, "SIGHUP")

		case <-tick:
			logger.Debug("activation", zap.Stringer("status", br.QueryActivation(ctx)))
		}
	}
}

func printScreen(w io.Writer, reg *settings.Registry, logger *zap.Logger) {
	if _, err := reg.WriteTo(w); err != nil {
		logger.Debug("failed to print settings screen", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	defaults := []string{
		"configs/nhook.yaml",
		"/etc/nhook/nhook.yaml",
		"/etc/nhook.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg, cfg.Validate()
}

// dataDirFor returns the host data directory, creating it if needed.
func dataDirFor(cfg *config.Config) (string, error) {
	dir := cfg.Host.DataDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, "nhook")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newLogger(level string) (*zap.Logger, zap.AtomicLevel, error) {
	atom := zap.NewAtomicLevelAt(parseLevel(level))

	cfg := zap.Config{
		Level:            atom,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := cfg.Build()
	return logger, atom, err
}
