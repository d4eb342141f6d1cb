// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	controlFileName = "control"
	controlPageSize = 4096

	offArmed   = 0
	offVersion = 1
	offHostPID = 8
	offArmedAt = 16
	stateSize  = 24
)

// ControlPage is the one-page file the engine maps read-only in every target.
//
//	0      armed (0 = hooks pass through, 1 = intercept)
//	1      protocol version
//	8:16   host pid
//	16:24  armed-at (unix ns)
//
// The engine polls byte 0 on each hooked call, so a write here takes effect
// in every target without any IPC.
type ControlPage struct {
	path string
	file *os.File
}

// ControlState is a decoded snapshot of the control page.
type ControlState struct {
	Armed   bool
	Version uint8
	HostPID int
	ArmedAt time.Time
}

// CreateControlPage creates (or truncates) the control page in dir. The page
// starts disarmed.
func CreateControlPage(dir string) (*ControlPage, error) {
	path := filepath.Join(dir, controlFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("create control page: %w", err)
	}

	if err := f.Truncate(controlPageSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate control page: %w", err)
	}

	var init [stateSize]byte
	init[offVersion] = ProtocolVersion
	if _, err := f.WriteAt(init[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("init control page: %w", err)
	}

	return &ControlPage{path: path, file: f}, nil
}

// OpenControlPage opens an existing control page. Used by the arm/disarm/status
// subcommands while a host is running elsewhere.
func OpenControlPage(dir string) (*ControlPage, error) {
	path := filepath.Join(dir, controlFileName)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open control page %s: %w", path, err)
	}

	return &ControlPage{path: path, file: f}, nil
}

// Arm tells every target to start intercepting and records which host owns
// the page.
func (c *ControlPage) Arm(hostPID int, now time.Time) error {
	var buf [stateSize - offHostPID]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(hostPID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(now.UnixNano()))
	if _, err := c.file.WriteAt(buf[:], offHostPID); err != nil {
		return fmt.Errorf("write control owner: %w", err)
	}
	// Flag last: the engine reads the owner only once it sees armed=1.
	if _, err := c.file.WriteAt([]byte{1}, offArmed); err != nil {
		return fmt.Errorf("arm control page: %w", err)
	}
	return nil
}

// Disarm turns every installed hook into a pass-through.
func (c *ControlPage) Disarm() error {
	_, err := c.file.WriteAt([]byte{0}, offArmed)
	return err
}

// State reads the current page contents.
func (c *ControlPage) State() (ControlState, error) {
	var buf [stateSize]byte
	if _, err := c.file.ReadAt(buf[:], 0); err != nil {
		return ControlState{}, fmt.Errorf("read control page: %w", err)
	}

	st := ControlState{
		Armed:   buf[offArmed] != 0,
		Version: buf[offVersion],
		HostPID: int(binary.LittleEndian.Uint64(buf[offHostPID:])),
	}
	if ns := int64(binary.LittleEndian.Uint64(buf[offArmedAt:])); ns != 0 {
		st.ArmedAt = time.Unix(0, ns)
	}
	return st, nil
}

// Close closes the file handle. Does NOT remove the file.
func (c *ControlPage) Close() error {
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}

// Remove removes the control page from disk.
func (c *ControlPage) Remove() {
	os.Remove(c.path)
}

// Path returns the control page path.
func (c *ControlPage) Path() string {
	return c.path
}
