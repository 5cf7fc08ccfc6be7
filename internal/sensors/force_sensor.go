// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/grip_recorder/internal/force"
)

var (
	// ErrNotConnected is returned by Arm when the notification link is down.
	ErrNotConnected = errors.New("sensor: not connected")
	// ErrClosed is returned once the sensor actor has been shut down.
	ErrClosed = errors.New("sensor: closed")
)

// Link is a notification channel to the force sensor. onNotify is called
// once per inbound notification and must not be retained after Disconnect.
type Link interface {
	Connect(ctx context.Context, onNotify func(payload []byte)) error
	Disconnect() error
}

// Capture is what one arm/disarm window collected.
type Capture struct {
	Start    time.Time
	Samples  []force.Sample // only samples stamped at or after Start
	Received int            // samples appended, including pre-start ones
	Dropped  uint64         // notifications lost to a full queue
}

// Status is a snapshot of the sensor actor.
type Status struct {
	Connected bool      `json:"connected"`
	Armed     bool      `json:"armed"`
	Start     time.Time `json:"start,omitempty"`
	Buffered  int       `json:"buffered"`
	Dropped   uint64    `json:"dropped"`
}

type reqKind int

const (
	reqConnect reqKind = iota
	reqDisconnect
	reqArm
	reqDisarm
	reqStatus
)

type request struct {
	kind  reqKind
	ctx   context.Context
	reply chan reply
}

type reply struct {
	ok      bool
	start   time.Time
	capture Capture
	status  Status
	err     error
}

// ForceSensor owns the telemetry link. One goroutine holds the link
// lifecycle, the armed window and the sample buffer; callers talk to it
// through requests. The notification callback only stamps, decodes and
// enqueues, so it never blocks.
type ForceSensor struct {
	link Link
	now  func() time.Time

	notes   chan force.Sample
	reqs    chan request
	armed   atomic.Bool
	dropped atomic.Uint64

	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// owned by run()
	connected bool
	buf       force.Buffer
}

// NewForceSensor starts the actor. queueSize bounds the number of
// notifications waiting to be appended.
func NewForceSensor(link Link, queueSize int) *ForceSensor {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &ForceSensor{
		link:   link,
		now:    time.Now,
		notes:  make(chan force.Sample, queueSize),
		reqs:   make(chan request),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.run()
	return s
}

// Connect discovers the device and subscribes to notifications.
func (s *ForceSensor) Connect(ctx context.Context) error {
	_, err := s.call(ctx, reqConnect)
	return err
}

// Disconnect unsubscribes and closes the link. It reports false when the
// link was not connected.
func (s *ForceSensor) Disconnect(ctx context.Context) (bool, error) {
	r, err := s.call(ctx, reqDisconnect)
	return r.ok, err
}

// Arm clears the buffer and opens a new capture window starting now.
func (s *ForceSensor) Arm(ctx context.Context) (time.Time, error) {
	r, err := s.call(ctx, reqArm)
	return r.start, err
}

// Disarm closes the capture window and returns what it collected. Without a
// prior Arm the capture is empty. Notifications already queued when Disarm
// is handled are appended first, so the returned capture is final.
func (s *ForceSensor) Disarm(ctx context.Context) (Capture, error) {
	r, err := s.call(ctx, reqDisarm)
	return r.capture, err
}

// Status returns a snapshot of the actor state.
func (s *ForceSensor) Status(ctx context.Context) (Status, error) {
	r, err := s.call(ctx, reqStatus)
	return r.status, err
}

// Close stops the actor, disconnecting the link if needed.
func (s *ForceSensor) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.exited
}

func (s *ForceSensor) call(ctx context.Context, kind reqKind) (reply, error) {
	req := request{kind: kind, ctx: ctx, reply: make(chan reply, 1)}
	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-s.exited:
		return reply{}, ErrClosed
	}
	select {
	case r := <-req.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-s.exited:
		return reply{}, ErrClosed
	}
}

// onNotify is handed to the link. It runs on the link's goroutine.
func (s *ForceSensor) onNotify(payload []byte) {
	hostTime := s.now()
	if !s.armed.Load() {
		return
	}
	s.push(force.Sample{HostTime: hostTime, Value: force.Decode(payload)})
}

func (s *ForceSensor) push(smp force.Sample) {
	select {
	case s.notes <- smp:
	default:
		s.dropped.Add(1)
	}
}

func (s *ForceSensor) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.quit:
			s.shutdown()
			return
		case smp := <-s.notes:
			s.ingest(smp)
		case req := <-s.reqs:
			req.reply <- s.handle(req)
		}
	}
}

func (s *ForceSensor) ingest(smp force.Sample) {
	if s.armed.Load() {
		s.buf.Append(smp)
	}
}

// flush moves every queued notification into the buffer (or discards it
// when disarmed).
func (s *ForceSensor) flush() {
	for {
		select {
		case smp := <-s.notes:
			s.ingest(smp)
		default:
			return
		}
	}
}

func (s *ForceSensor) handle(req request) reply {
	switch req.kind {
	case reqConnect:
		if s.connected {
			return reply{ok: true}
		}
		log.Printf("sensor: connecting")
		if err := s.link.Connect(req.ctx, s.onNotify); err != nil {
			log.Printf("sensor: connection failed: %v", err)
			return reply{err: fmt.Errorf("sensor: connect: %w", err)}
		}
		s.connected = true
		log.Printf("sensor: connection established, notifications active")
		return reply{ok: true}

	case reqDisconnect:
		if !s.connected {
			return reply{ok: false}
		}
		s.armed.Store(false)
		s.flush()
		s.buf.Clear()
		s.connected = false
		err := s.link.Disconnect()
		if err != nil {
			log.Printf("sensor: disconnect error: %v", err)
			err = fmt.Errorf("sensor: disconnect: %w", err)
		}
		log.Printf("sensor: disconnected")
		return reply{ok: true, err: err}

	case reqArm:
		if !s.connected {
			return reply{err: ErrNotConnected}
		}
		s.armed.Store(false)
		s.flush()
		start := s.now()
		s.buf.Reset(start)
		s.dropped.Store(0)
		s.armed.Store(true)
		log.Printf("sensor: data logging started, timestamp %.6f s", float64(start.UnixNano())/1e9)
		return reply{ok: true, start: start}

	case reqDisarm:
		wasArmed := s.armed.Load()
		s.flush()
		s.armed.Store(false)
		if !wasArmed {
			s.buf.Clear()
			return reply{ok: false, capture: Capture{Samples: []force.Sample{}}}
		}
		capture := Capture{
			Start:    s.buf.Start(),
			Samples:  s.buf.Retained(),
			Received: s.buf.Len(),
			Dropped:  s.dropped.Load(),
		}
		if capture.Dropped > 0 {
			log.Printf("sensor: %d notifications dropped on a full queue", capture.Dropped)
		}
		log.Printf("sensor: data logging stopped, %d samples (%d received)", len(capture.Samples), capture.Received)
		s.buf.Clear()
		return reply{ok: true, capture: capture}

	case reqStatus:
		st := Status{
			Connected: s.connected,
			Armed:     s.armed.Load(),
			Buffered:  s.buf.Len() + len(s.notes),
			Dropped:   s.dropped.Load(),
		}
		if st.Armed {
			st.Start = s.buf.Start()
		}
		return reply{ok: true, status: st}
	}
	return reply{err: fmt.Errorf("sensor: unknown request %d", req.kind)}
}

func (s *ForceSensor) shutdown() {
	s.armed.Store(false)
	if !s.connected {
		return
	}
	s.connected = false
	if err := s.link.Disconnect(); err != nil {
		log.Printf("sensor: disconnect on close: %v", err)
	}
	log.Printf("sensor: disconnected")
}
