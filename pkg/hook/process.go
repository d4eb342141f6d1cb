// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemChecker implements ProcessChecker with gopsutil.
type SystemChecker struct{}

// Alive reports whether pid still exists.
func (SystemChecker) Alive(pid uint32) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Mapped scans the target's memory maps for library. Only Linux exposes
// per-mapping paths; elsewhere the check is skipped and reports true.
func (SystemChecker) Mapped(pid uint32, library string) (bool, error) {
	if runtime.GOOS != "linux" {
		return true, nil
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false, fmt.Errorf("open process %d: %w", pid, err)
	}
	maps, err := p.MemoryMaps(true)
	if err != nil {
		return false, fmt.Errorf("read maps of %d: %w", pid, err)
	}
	if maps == nil {
		return false, nil
	}

	base := filepath.Base(library)
	for _, m := range *maps {
		if m.Path == library || filepath.Base(m.Path) == base {
			return true, nil
		}
	}
	return false, nil
}
