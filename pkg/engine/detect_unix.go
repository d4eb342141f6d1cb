// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux || darwin

package engine

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reports whether the preload engine can run here. Linux loads it via
// LD_PRELOAD, macOS via DYLD_INSERT_LIBRARIES.
func Detect() Support {
	s := Support{
		Available:     true,
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		KernelVersion: kernelVersion(),
	}
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		s.Available = false
		s.Reason = "engine is built for amd64 and arm64 only, not " + runtime.GOARCH
	}
	return s
}

// kernelVersion returns the running kernel release string.
func kernelVersion() string {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "unknown"
	}
	return cstring(uname.Release[:])
}
