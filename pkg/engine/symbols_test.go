package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// systemLibc finds a shared C library whose .dynsym exports malloc.
func systemLibc(t *testing.T) string {
	t.Helper()
	for _, pattern := range []string{
		"/lib/*-linux-gnu/libc.so.6",
		"/usr/lib/*-linux-gnu/libc.so.6",
		"/lib64/libc.so.6",
		"/usr/lib64/libc.so.6",
		"/usr/lib/libc.so.6",
		"/lib/libc.so.6",
		"/lib/ld-musl-*.so.1",
	} {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
				return m
			}
		}
	}
	t.Skip("no system libc found")
	return ""
}

func TestLookupEntryDynamicSymbol(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF symbol lookup test requires linux")
	}
	lib := systemLibc(t)

	addr, err := LookupEntry(lib, "malloc")
	if err != nil {
		t.Fatalf("LookupEntry(%s): %v", lib, err)
	}
	if addr == 0 {
		t.Error("address is zero")
	}

	if _, err := LookupEntry(lib, "nhook_no_such_symbol"); !errors.Is(err, errSymbolNotFound) {
		t.Errorf("err = %v, want errSymbolNotFound", err)
	}
}

func TestLookupEntryStrippedBinary(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF symbol lookup test requires linux")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("executable: %v", err)
	}

	// The test binary may or may not carry .symtab; either way a missing
	// symbol is reported as not found, not as a parse error.
	if _, err := LookupEntry(exe, "nhook_no_such_symbol"); !errors.Is(err, errSymbolNotFound) {
		t.Errorf("err = %v, want errSymbolNotFound", err)
	}
}

func TestLookupEntryNotAnObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libnhook.so")
	if err := os.WriteFile(path, []byte("not an elf"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LookupEntry(path, "nhook_init"); err == nil {
		t.Error("expected error for non-object file")
	}
}

func TestIdentity(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.so")
	b := filepath.Join(dir, "b.so")
	os.WriteFile(a, []byte("build-1"), 0644)
	os.WriteFile(b, []byte("build-2"), 0644)

	ia, err := Identity(a)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if len(ia) != 32 {
		t.Errorf("len = %d, want 32", len(ia))
	}
	ia2, _ := Identity(a)
	if !bytes.Equal(ia, ia2) {
		t.Error("identity not stable")
	}
	ib, _ := Identity(b)
	if bytes.Equal(ia, ib) {
		t.Error("different builds share an identity")
	}

	if _, err := Identity(filepath.Join(dir, "missing.so")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDetect(t *testing.T) {
	s := Detect()
	if s.Platform == "" {
		t.Error("Platform empty")
	}
	if !s.Available && s.Reason == "" {
		t.Error("unavailable without a reason")
	}
}
