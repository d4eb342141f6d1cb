package hook

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

// Environment variables read by the engine when it starts inside a target.
const (
	EnvSocket  = "NHOOK_SOCKET"
	EnvControl = "NHOOK_CONTROL"
)

// Injector locates the engine library and prepares targets to load it
// through the platform's preload mechanism.
type Injector struct {
	libraryPath string
	socketPath  string
	logger      *zap.Logger
}

// NewInjector creates a new injector. libraryPath may be empty, in which case
// the well-known install locations are searched.
func NewInjector(libraryPath, socketPath string, logger *zap.Logger) *Injector {
	return &Injector{
		libraryPath: libraryPath,
		socketPath:  socketPath,
		logger:      logger,
	}
}

// LibraryCandidates lists the install locations searched when no explicit
// path is configured.
func LibraryCandidates() []string {
	if runtime.GOOS == "darwin" {
		return []string{
			"./lib/libnhook.dylib",
			"/usr/local/lib/libnhook.dylib",
			"/opt/nhook/lib/libnhook.dylib",
		}
	}
	return []string{
		"./lib/libnhook.so",
		"/usr/lib/libnhook.so",
		"/usr/local/lib/libnhook.so",
		"/opt/nhook/lib/libnhook.so",
	}
}

// FindLibrary returns the absolute path of the engine library. An explicit
// path that does not exist is an error rather than a reason to keep searching.
func (inj *Injector) FindLibrary() (string, error) {
	if inj.libraryPath != "" {
		abs, err := filepath.Abs(inj.libraryPath)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", inj.libraryPath, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("engine library %s: %w", abs, err)
		}
		return abs, nil
	}

	for _, path := range LibraryCandidates() {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		}
	}

	return "", fmt.Errorf("engine library not found in %v", LibraryCandidates())
}

// preloadEnvVar returns the platform-specific preload environment variable name.
func preloadEnvVar() string {
	if runtime.GOOS == "darwin" {
		return "DYLD_INSERT_LIBRARIES"
	}
	return "LD_PRELOAD"
}

// InjectEnv returns the environment a target needs to load the engine and
// find the host.
func (inj *Injector) InjectEnv() ([]string, error) {
	libPath, err := inj.FindLibrary()
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf("%s=%s", preloadEnvVar(), libPath),
		fmt.Sprintf("%s=%s", EnvSocket, inj.socketPath),
		fmt.Sprintf("%s=%s", EnvControl, filepath.Join(filepath.Dir(inj.socketPath), controlFileName)),
	}, nil
}

// InjectCommand wraps a command so it starts with the engine loaded.
func (inj *Injector) InjectCommand(name string, args ...string) (*exec.Cmd, error) {
	env, err := inj.InjectEnv()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	inj.logger.Debug("prepared target command",
		zap.String("command", name),
		zap.Strings("env", env),
	)
	return cmd, nil
}
