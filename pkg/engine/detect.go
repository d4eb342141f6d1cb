// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package engine

import "strings"

// Support describes whether this platform can run the preload engine.
type Support struct {
	Available     bool
	Platform      string
	KernelVersion string
	Reason        string // non-empty when Available is false
}

func cstring(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
