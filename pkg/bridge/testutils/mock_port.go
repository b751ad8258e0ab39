// Rover Link
// Copyright (c) 2026 The Rover Link Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Rover Link.
//
// Rover Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Rover Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Rover Link.  If not, see <http://www.gnu.org/licenses/>.

// Package testutils provides serial port doubles for bridge tests.
package testutils

import (
	"bytes"
	"errors"
	"time"

	"github.com/roverlink/roverlink/pkg/helpers/syncutil"
	"go.bug.st/serial"
)

// ErrPortClosed is returned by MockPort operations after Close.
var ErrPortClosed = errors.New("port closed")

// MockPort is an in-memory serial port. Reads drain data queued with Feed
// and behave like a read timeout when nothing is queued.
type MockPort struct {
	ReadFunc   func(p []byte) (n int, err error)
	readErr    error
	WriteErr   error
	CloseErr   error
	TimeoutErr error
	ResetErr   error
	written    bytes.Buffer
	readData   []byte
	IdleDelay  time.Duration
	writes     int
	closed     bool
	mu         syncutil.RWMutex
}

func NewMockPort() *MockPort {
	return &MockPort{IdleDelay: 5 * time.Millisecond}
}

// Feed queues bytes for later reads.
func (m *MockPort) Feed(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readData = append(m.readData, data...)
}

// FailReads makes every following read return err, simulating an unplugged
// device.
func (m *MockPort) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	if m.ReadFunc != nil {
		fn := m.ReadFunc
		m.mu.Unlock()
		return fn(p)
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	if len(m.readData) == 0 {
		delay := m.IdleDelay
		m.mu.Unlock()
		time.Sleep(delay)
		return 0, nil
	}
	n := copy(p, m.readData)
	m.readData = m.readData[n:]
	m.mu.Unlock()
	return n, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrPortClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.writes++
	return m.written.Write(p)
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

func (m *MockPort) SetReadTimeout(_ time.Duration) error {
	return m.TimeoutErr
}

func (m *MockPort) ResetInputBuffer() error {
	return m.ResetErr
}

func (m *MockPort) ResetOutputBuffer() error {
	return m.ResetErr
}

// Written returns everything written so far.
func (m *MockPort) Written() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.written.String()
}

// Writes returns the number of successful Write calls.
func (m *MockPort) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// IsClosed returns true if the port has been closed.
func (m *MockPort) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// MockFactory hands out ports in order, failing the first FailFirst opens.
// When the list is exhausted the last port is reused.
type MockFactory struct {
	OpenErr   error
	ports     []*MockPort
	modes     []serial.Mode
	FailFirst int
	calls     int
	mu        syncutil.Mutex
}

func NewMockFactory(ports ...*MockPort) *MockFactory {
	return &MockFactory{
		ports:   ports,
		OpenErr: errors.New("no such device"),
	}
}

// Open returns the next port or an error.
func (f *MockFactory) Open(_ string, mode *serial.Mode) (*MockPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if mode != nil {
		f.modes = append(f.modes, *mode)
	}
	if f.calls <= f.FailFirst || len(f.ports) == 0 {
		return nil, f.OpenErr
	}

	idx := f.calls - f.FailFirst - 1
	if idx >= len(f.ports) {
		idx = len(f.ports) - 1
	}
	return f.ports[idx], nil
}

// SetFailFirst changes how many leading opens fail.
func (f *MockFactory) SetFailFirst(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailFirst = n
}

// Calls returns the number of open attempts.
func (f *MockFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastMode returns the mode passed to the most recent open.
func (f *MockFactory) LastMode() serial.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.modes) == 0 {
		return serial.Mode{}
	}
	return f.modes[len(f.modes)-1]
}
