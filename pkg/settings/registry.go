// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package settings

import (
	"fmt"
	"io"
)

// Key identifies a preference on the settings screen.
type Key int

const (
	ModuleStatus Key = iota
	SignatureProbe
	MaxMemory
	numKeys
)

func (k Key) String() string {
	switch k {
	case ModuleStatus:
		return "module_status"
	case SignatureProbe:
		return "signature_probe"
	case MaxMemory:
		return "max_memory"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

// Preference is one rendered row.
type Preference struct {
	Key     Key
	Title   string
	Summary string
	Enabled bool
}

// Registry holds one preference per Key, in screen order.
type Registry struct {
	prefs [numKeys]Preference
}

func newRegistry() *Registry {
	r := &Registry{}
	for k := Key(0); k < numKeys; k++ {
		r.prefs[k].Key = k
	}
	return r
}

// Get returns the preference for k. k must be one of the declared keys.
func (r *Registry) Get(k Key) *Preference {
	return &r.prefs[k]
}

// All returns copies of every preference in screen order.
func (r *Registry) All() []Preference {
	out := make([]Preference, numKeys)
	copy(out, r.prefs[:])
	return out
}

// WriteTo prints the screen as plain text.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, p := range r.prefs {
		mark := " "
		if p.Enabled {
			mark = "*"
		}
		n, err := fmt.Fprintf(w, "[%s] %s\n", mark, p.Title)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if p.Summary != "" {
			n, err = fmt.Fprintf(w, "    %s\n", p.Summary)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}
