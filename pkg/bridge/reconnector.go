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

package bridge

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/helpers/syncutil"
	"github.com/roverlink/roverlink/pkg/metrics"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const maxWriteRetries = 3

// Reconnector owns the serial handle and its Closed/Open state. Every
// transition is announced as a serial_status event. The mutex is shared with
// the write path so a write never races an open or close.
type Reconnector struct {
	port        Port
	factory     PortFactory
	clock       clockwork.Clock
	emit        func(models.Event)
	metrics     *metrics.Metrics
	path        string
	baud        int
	readTimeout time.Duration
	backoff     time.Duration
	failures    int
	state       PortState
	shut        bool
	mu          syncutil.Mutex
}

// NewReconnector creates a reconnector in the Closed state. emit receives
// status events and must not block.
func NewReconnector(cfg *Config, emit func(models.Event)) *Reconnector {
	return &Reconnector{
		factory:     cfg.PortFactory,
		clock:       cfg.Clock,
		emit:        emit,
		metrics:     cfg.Metrics,
		path:        cfg.Path,
		baud:        cfg.Baud,
		readTimeout: cfg.ReadTimeout,
		backoff:     cfg.Backoff,
	}
}

// Open attempts a single Closed->Open transition. It is a no-op when the
// port is already open.
func (r *Reconnector) Open() error {
	r.mu.Lock()
	if r.state == StateOpen || r.shut {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	port, err := r.factory(r.path, &serial.Mode{BaudRate: r.baud})
	if err == nil && r.readTimeout > 0 {
		if toErr := port.SetReadTimeout(r.readTimeout); toErr != nil {
			_ = port.Close()
			err = fmt.Errorf("failed to set read timeout: %w", toErr)
		}
	}
	if err != nil {
		r.mu.Lock()
		r.failures++
		failures := r.failures
		r.mu.Unlock()

		r.metrics.PortFailed()
		if failures == 1 {
			log.Warn().Err(err).Str("port", r.path).Msg("could not open serial port, retrying in background")
		} else {
			log.Debug().Err(err).Str("port", r.path).Int("attempt", failures).Msg("serial port still unavailable")
		}
		return fmt.Errorf("opening %s: %w", r.path, err)
	}

	// stale bytes from before the (re)connect are meaningless
	_ = port.ResetInputBuffer()
	_ = port.ResetOutputBuffer()

	r.mu.Lock()
	if r.shut {
		r.mu.Unlock()
		_ = port.Close()
		return nil
	}
	r.port = port
	r.state = StateOpen
	r.failures = 0
	r.mu.Unlock()

	r.metrics.PortOpened()
	log.Info().Str("port", r.path).Int("baud", r.baud).Msg("serial port opened")
	r.emit(models.SerialOpened(r.path, r.baud, r.clock.Now()))
	return nil
}

// Reopen drops any stale handle, waits the backoff and tries to open once.
// It returns false if stop fired while waiting or the open failed.
func (r *Reconnector) Reopen(stop <-chan struct{}) bool {
	r.mu.Lock()
	if r.port != nil {
		_ = r.port.Close()
		r.port = nil
	}
	r.state = StateClosed
	r.mu.Unlock()

	select {
	case <-stop:
		return false
	case <-r.clock.After(r.backoff):
	}

	return r.Open() == nil
}

// Fail moves an open port to Closed after an I/O fault.
func (r *Reconnector) Fail(cause error) {
	if !r.transitionClosed() {
		return
	}
	r.metrics.PortFailed()
	log.Warn().Err(cause).Str("port", r.path).Msg("serial port fault, treating as disconnected")
	r.emit(models.SerialDisconnected(r.clock.Now()))
}

// Close moves an open port to Closed. Closing an already closed port does
// nothing.
func (r *Reconnector) Close() {
	if !r.transitionClosed() {
		return
	}
	log.Info().Str("port", r.path).Msg("serial port closed")
	r.emit(models.SerialDisconnected(r.clock.Now()))
}

// shutdown closes the port and prevents any later open from installing a
// handle.
func (r *Reconnector) shutdown() {
	r.mu.Lock()
	r.shut = true
	r.mu.Unlock()
	r.Close()
}

func (r *Reconnector) transitionClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateOpen {
		return false
	}
	if r.port != nil {
		if err := r.port.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing serial port")
		}
	}
	r.port = nil
	r.state = StateClosed
	r.metrics.PortClosed()
	return true
}

func (r *Reconnector) State() PortState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// current returns the open handle for the reader. The reader uses it without
// holding the lock.
func (r *Reconnector) current() (Port, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port, r.state == StateOpen && r.port != nil
}

// Write writes all of b while holding the state lock.
func (r *Reconnector) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateOpen || r.port == nil {
		return 0, ErrPortNotOpen
	}

	written := 0
	for retries := 0; written < len(b) && retries < maxWriteRetries; retries++ {
		n, err := r.port.Write(b[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to write to serial port: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if written < len(b) {
		return written, ErrShortWrite
	}
	return written, nil
}
