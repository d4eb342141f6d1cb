// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package diag

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const mib = 1024 * 1024

// MemoryReport is the host's memory picture, in bytes.
type MemoryReport struct {
	RSS           uint64
	GoHeap        uint64
	GoSys         uint64
	Limit         uint64 // Go soft memory limit; 0 when unlimited
	HostTotal     uint64
	HostAvailable uint64
}

// CollectMemory gathers a memory report for the current process.
func CollectMemory(ctx context.Context) (MemoryReport, error) {
	var r MemoryReport

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.GoHeap = ms.HeapAlloc
	r.GoSys = ms.Sys

	// A negative input reads the limit without changing it.
	if lim := debug.SetMemoryLimit(-1); lim != math.MaxInt64 && lim > 0 {
		r.Limit = uint64(lim)
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return r, fmt.Errorf("open self: %w", err)
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return r, fmt.Errorf("process memory: %w", err)
	}
	r.RSS = info.RSS

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return r, fmt.Errorf("host memory: %w", err)
	}
	r.HostTotal = vm.Total
	r.HostAvailable = vm.Available

	return r, nil
}

// MaxMB is the most memory the host may use: the Go limit when one is set,
// otherwise physical memory.
func (r MemoryReport) MaxMB() uint64 {
	if r.Limit > 0 && (r.HostTotal == 0 || r.Limit < r.HostTotal) {
		return r.Limit / mib
	}
	return r.HostTotal / mib
}

func (r MemoryReport) String() string {
	return fmt.Sprintf("max memory: %d MB (rss %d MB, go heap %d MB, host available %d MB)",
		r.MaxMB(), r.RSS/mib, r.GoHeap/mib, r.HostAvailable/mib)
}
