package diag

import (
	"context"
	"strings"
	"testing"
)

func TestMaxMB(t *testing.T) {
	tests := []struct {
		name string
		r    MemoryReport
		want uint64
	}{
		{"host only", MemoryReport{HostTotal: 8192 * mib}, 8192},
		{"limit below host", MemoryReport{Limit: 512 * mib, HostTotal: 8192 * mib}, 512},
		{"limit above host", MemoryReport{Limit: 16384 * mib, HostTotal: 8192 * mib}, 8192},
		{"limit without host", MemoryReport{Limit: 256 * mib}, 256},
		{"nothing", MemoryReport{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.MaxMB(); got != tt.want {
				t.Errorf("MaxMB() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	r := MemoryReport{RSS: 30 * mib, GoHeap: 4 * mib, HostTotal: 2048 * mib, HostAvailable: 1024 * mib}
	s := r.String()
	for _, want := range []string{"max memory: 2048 MB", "rss 30 MB", "host available 1024 MB"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestCollectMemory(t *testing.T) {
	r, err := CollectMemory(context.Background())
	if err != nil {
		t.Skipf("memory stats unavailable: %v", err)
	}
	if r.GoSys == 0 {
		t.Error("GoSys is zero")
	}
	if r.HostTotal == 0 {
		t.Error("HostTotal is zero")
	}
	if r.MaxMB() == 0 {
		t.Error("MaxMB is zero")
	}
}
