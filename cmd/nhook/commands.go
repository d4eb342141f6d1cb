// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mbeema/nhook/pkg/config"
	"github.com/mbeema/nhook/pkg/hook"
	"go.uber.org/zap"
)

// commands run instead of the host when named as the first argument.
var commands = map[string]func(args []string) int{
	"exec":   cmdExec,
	"arm":    cmdArm,
	"disarm": cmdDisarm,
	"status": cmdStatus,
}

func commandConfig(name string, args []string) (*config.Config, []string, error) {
	var src configSource
	fs := flag.NewFlagSet("nhook "+name, flag.ExitOnError)
	src.register(fs)
	fs.Parse(args)

	cfg, err := src.load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// cmdExec starts a target with the engine preloaded: nhook exec -- prog args...
func cmdExec(args []string) int {
	cfg, rest, err := commandConfig("exec", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nhook exec [-config file] -- command [args...]")
		return 2
	}

	logger, _, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	inj := hook.NewInjector(cfg.Engine.LibraryPath, cfg.Engine.SocketPath, logger)
	cmd, err := inj.InjectCommand(rest[0], rest[1:]...)
	if err != nil {
		logger.Error("cannot prepare target", zap.Error(err))
		return 1
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		logger.Error("target failed to start", zap.String("command", rest[0]), zap.Error(err))
		return 1
	}
	return 0
}

func openControl(name string, args []string) (*hook.ControlPage, int) {
	cfg, _, err := commandConfig(name, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return nil, 1
	}
	page, err := hook.OpenControlPage(filepath.Dir(cfg.Engine.SocketPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running host: %v\n", err)
		return nil, 1
	}
	return page, 0
}

// cmdArm re-arms hooks, keeping the running host as owner.
func cmdArm(args []string) int {
	page, code := openControl("arm", args)
	if page == nil {
		return code
	}
	defer page.Close()

	st, err := page.State()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := page.Arm(st.HostPID, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println("armed")
	return 0
}

// cmdDisarm turns every installed hook into a pass-through.
func cmdDisarm(args []string) int {
	page, code := openControl("disarm", args)
	if page == nil {
		return code
	}
	defer page.Close()

	if err := page.Disarm(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println("disarmed")
	return 0
}

func cmdStatus(args []string) int {
	page, code := openControl("status", args)
	if page == nil {
		return code
	}
	defer page.Close()

	st, err := page.State()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	printControlState(os.Stdout, page.Path(), st)
	return 0
}

func printControlState(w io.Writer, path string, st hook.ControlState) {
	fmt.Fprintf(w, "control:  %s\n", path)
	fmt.Fprintf(w, "armed:    %v\n", st.Armed)
	fmt.Fprintf(w, "protocol: %d\n", st.Version)
	fmt.Fprintf(w, "host pid: %d\n", st.HostPID)
	if !st.ArmedAt.IsZero() {
		fmt.Fprintf(w, "armed at: %s\n", st.ArmedAt.UTC().Format(time.RFC3339))
	}
}
