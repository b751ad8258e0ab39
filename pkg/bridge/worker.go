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

// Package bridge connects the rover's serial link to the client broadcast
// layer. A Worker owns the port, runs the read loop on its own goroutine,
// classifies every line and hands the results to a Sink. Writes from any
// number of callers are serialised against each other and against
// reconnects.
package bridge

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/metrics"
	"github.com/roverlink/roverlink/pkg/rover"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const (
	DefaultBaud         = 115200
	DefaultReadTimeout  = 500 * time.Millisecond
	DefaultBackoff      = 1 * time.Second
	DefaultFaultPause   = 1 * time.Second
	DefaultErrorPause   = 100 * time.Millisecond
	DefaultJoinTimeout  = 1 * time.Second
	DefaultMaxLineBytes = 1 << 20

	readChunkSize = 4096
)

// Sink receives everything the worker produces. Broadcast must not block:
// the read loop never waits for delivery.
type Sink interface {
	Broadcast(ev models.Event)
}

// Config configures a Worker. Zero values fall back to the defaults above.
type Config struct {
	PortFactory  PortFactory
	Clock        clockwork.Clock
	Metrics      *metrics.Metrics
	Commands     map[string]string
	Parser       rover.Options
	Path         string
	Baud         int
	ReadTimeout  time.Duration
	Backoff      time.Duration
	FaultPause   time.Duration
	ErrorPause   time.Duration
	JoinTimeout  time.Duration
	MaxLineBytes int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PortFactory == nil {
		out.PortFactory = DefaultPortFactory
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.Baud <= 0 {
		out.Baud = DefaultBaud
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.Backoff <= 0 {
		out.Backoff = DefaultBackoff
	}
	if out.FaultPause <= 0 {
		out.FaultPause = DefaultFaultPause
	}
	if out.ErrorPause <= 0 {
		out.ErrorPause = DefaultErrorPause
	}
	if out.JoinTimeout <= 0 {
		out.JoinTimeout = DefaultJoinTimeout
	}
	if out.MaxLineBytes <= 0 {
		out.MaxLineBytes = DefaultMaxLineBytes
	}
	if out.Parser == (rover.Options{}) {
		out.Parser = rover.DefaultOptions()
	}
	return out
}

// readOutcome is the typed result of one read attempt.
type readOutcome int

const (
	// readIdle means no complete line yet: timeout, partial data or an
	// overlong line that was dropped.
	readIdle readOutcome = iota
	readLine
	readFault
)

type Worker struct {
	sink     Sink
	rc       *Reconnector
	commands *CommandMapper
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	stop     chan struct{}
	done     chan struct{}
	cfg      Config
	pending  []byte
	chunk    []byte
	started  atomic.Bool
	stopped  atomic.Bool
	// discarding is set while skipping the rest of an overlong line
	discarding bool
}

func NewWorker(cfg *Config, sink Sink) *Worker {
	c := cfg.withDefaults()
	w := &Worker{
		sink:     sink,
		commands: NewCommandMapper(c.Commands),
		clock:    c.Clock,
		metrics:  c.Metrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		cfg:      c,
		chunk:    make([]byte, readChunkSize),
	}
	w.rc = NewReconnector(&c, w.emit)
	return w
}

// Start makes one attempt to open the port and then runs the read loop in
// the background whatever the outcome; a missing device is retried by the
// loop. Calling Start more than once has no effect.
func (w *Worker) Start() {
	if w.stopped.Load() || !w.started.CompareAndSwap(false, true) {
		return
	}

	if err := w.rc.Open(); err != nil {
		log.Debug().Err(err).Msg("starting read loop without an open port")
	}

	go w.run()
}

// Stop ends the read loop, waits a bounded time for it to exit and closes
// the port. It is safe to call more than once.
func (w *Worker) Stop() {
	if !w.stopped.CompareAndSwap(false, true) {
		return
	}
	close(w.stop)

	if w.started.Load() {
		select {
		case <-w.done:
		case <-time.After(w.cfg.JoinTimeout):
			log.Warn().Msg("serial read loop did not exit in time")
		}
	}

	w.rc.shutdown()
	log.Info().Msg("serial worker stopped")
}

func (w *Worker) State() PortState {
	return w.rc.State()
}

// SendLine writes text to the port, appending a newline when appendNewline
// is set and text does not already end with one. Successful writes are
// echoed as serial_out events.
func (w *Worker) SendLine(text string, appendNewline bool) (int, error) {
	if text == "" {
		return 0, ErrEmptyLine
	}

	payload := text
	if appendNewline && !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}

	n, err := w.rc.Write([]byte(payload))
	if err != nil {
		w.metrics.WriteFailed()
		return n, err
	}
	w.metrics.Written(n)

	w.emit(models.SerialOut(strings.TrimRight(payload, "\r\n"), w.clock.Now()))
	return n, nil
}

// SendWASD writes the command mapped to key, with ",<ms>" appended when a
// duration is given. Unknown keys are ignored.
func (w *Worker) SendWASD(key string, durationMs *int) error {
	line, ok := w.commands.Line(key, durationMs)
	if !ok {
		log.Debug().Str("key", key).Msg("ignoring unmapped control key")
		return nil
	}
	_, err := w.SendLine(line, true)
	return err
}

// SendSerialLine is the request/response form of SendLine used by the REST
// API. It never returns an error: ok is false when the line is empty after
// trimming trailing CR/LF or the write failed.
func (w *Worker) SendSerialLine(line string) models.SerialSendResponse {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return models.SerialSendResponse{OK: false, BytesWritten: 0}
	}

	n, err := w.SendLine(line, true)
	if err != nil {
		log.Warn().Err(err).Msg("serial send failed")
		return models.SerialSendResponse{OK: false, BytesWritten: 0}
	}
	return models.SerialSendResponse{OK: true, BytesWritten: n}
}

func (w *Worker) emit(ev models.Event) {
	if w.sink == nil {
		return
	}
	w.sink.Broadcast(ev)
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// pause sleeps for d unless the worker is stopped first.
func (w *Worker) pause(d time.Duration) {
	select {
	case <-w.stop:
	case <-w.clock.After(d):
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for !w.stopping() {
		w.step()
	}
}

// step runs one iteration of the read loop. A panic here, from a sink or
// anything else unexpected, is logged and the loop carries on after a short
// pause.
func (w *Worker) step() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered in serial read loop")
			w.pause(w.cfg.ErrorPause)
		}
	}()

	port, open := w.rc.current()
	if !open {
		w.emit(models.SerialDisconnected(w.clock.Now()))
		w.pending = w.pending[:0]
		w.discarding = false
		w.rc.Reopen(w.stop)
		return
	}

	line, outcome, err := w.readLine(port)
	switch outcome {
	case readIdle:
		return
	case readFault:
		if w.stopping() {
			return
		}
		w.rc.Fail(err)
		w.pause(w.cfg.FaultPause)
		return
	case readLine:
		w.handleLine(line)
	}
}

// readLine returns the next complete line, reading from port only when no
// buffered line is pending.
func (w *Worker) readLine(port Port) (string, readOutcome, error) {
	if line, ok := w.takeLine(); ok {
		return line, readLine, nil
	}

	n, err := port.Read(w.chunk)
	if err != nil {
		return "", readFault, fmt.Errorf("reading serial port: %w", err)
	}
	if n == 0 {
		return "", readIdle, nil
	}
	w.pending = append(w.pending, w.chunk[:n]...)

	if line, ok := w.takeLine(); ok {
		return line, readLine, nil
	}
	if len(w.pending) > w.cfg.MaxLineBytes {
		log.Warn().
			Err(ErrLineTooLong).
			Int("bytes", len(w.pending)).
			Msg("dropping partial serial line")
		w.pending = w.pending[:0]
		w.discarding = true
	}
	return "", readIdle, nil
}

func (w *Worker) takeLine() (string, bool) {
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			return "", false
		}
		raw := w.pending[:idx]
		rest := w.pending[idx+1:]
		if w.discarding {
			// remainder of a line that was already dropped
			w.discarding = false
			w.pending = append(w.pending[:0], rest...)
			continue
		}
		line := decodeLine(raw)
		w.pending = append(w.pending[:0], rest...)
		return line, true
	}
}

// decodeLine drops invalid UTF-8 sequences and surrounding whitespace.
func decodeLine(b []byte) string {
	s := string(b)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(s)
}

func (w *Worker) handleLine(line string) {
	if line == "" {
		return
	}

	now := w.clock.Now()
	w.emit(models.SerialIn(line, now))

	res := rover.Classify(line, w.cfg.Parser, now)
	w.metrics.LineReceived(res.Kind.String())

	switch res.Kind {
	case rover.KindTelemetry:
		w.emit(models.NewTelemetryEvent(res.Telemetry))
	case rover.KindImage:
		w.emit(models.NewImageEvent(res.Image))
		w.emit(models.SerialIn(models.ImageFrameMarker, now))
	case rover.KindUnclassified:
		log.Debug().Str("line", truncate(line, 80)).Msg("unclassified serial line")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
