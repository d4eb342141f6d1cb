//go:build !linux && !darwin

package engine

import (
	"fmt"
	"runtime"
)

// Detect on platforms without a preload mechanism always returns unavailable.
func Detect() Support {
	return Support{
		Available: false,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Reason:    fmt.Sprintf("preload engine not supported on %s", runtime.GOOS),
	}
}
