// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package engine

import (
	"crypto/sha256"
	"debug/elf"
	"debug/macho"
	"errors"
	"fmt"
	"io"
	"os"
)

var errSymbolNotFound = errors.New("symbol not found")

// LookupEntry returns the address of symbol in the engine library at path.
// ELF libraries are searched in .dynsym first, then .symtab; Mach-O
// libraries through their symbol table, where C symbols carry a leading
// underscore.
func LookupEntry(path, symbol string) (uint64, error) {
	if f, err := elf.Open(path); err == nil {
		defer f.Close()
		return lookupELF(f, symbol)
	}
	if f, err := macho.Open(path); err == nil {
		defer f.Close()
		return lookupMachO(f, symbol)
	}
	return 0, fmt.Errorf("%s: unrecognized object file", path)
}

func lookupELF(f *elf.File, symbol string) (uint64, error) {
	if syms, err := f.DynamicSymbols(); err == nil {
		for _, s := range syms {
			if s.Name == symbol && elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Value != 0 {
				return s.Value, nil
			}
		}
	}

	// Unstripped builds still carry .symtab.
	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name == symbol && s.Value != 0 {
				return s.Value, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", errSymbolNotFound, symbol)
}

func lookupMachO(f *macho.File, symbol string) (uint64, error) {
	if f.Symtab == nil {
		return 0, fmt.Errorf("%w: %s (no symbol table)", errSymbolNotFound, symbol)
	}
	for _, s := range f.Symtab.Syms {
		if (s.Name == symbol || s.Name == "_"+symbol) && s.Value != 0 {
			return s.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", errSymbolNotFound, symbol)
}

// Identity hashes the engine library. It ties signer keys to the exact build
// that was loaded.
func Identity(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open engine library: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash engine library: %w", err)
	}
	return h.Sum(nil), nil
}
