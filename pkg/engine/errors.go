// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package engine

import (
	"errors"
	"fmt"
)

// Initialization errors.
var (
	ErrNativeLoadFailure = errors.New("engine: native library failed to load")
	ErrContextInvalid    = errors.New("engine: host context invalid")
)

// Signing errors.
var (
	ErrEngineNotReady = errors.New("engine: not initialized")
	ErrInternalFault  = errors.New("engine: internal fault")
)

// loadFailure tags err as a load failure unless it already carries one of
// the initialization kinds.
func loadFailure(err error) error {
	if errors.Is(err, ErrNativeLoadFailure) || errors.Is(err, ErrContextInvalid) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNativeLoadFailure, err)
}
