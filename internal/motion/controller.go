// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion drives the motor controller (a MicroPython board) over its
// serial REPL: connect, send a move command, read back whatever it printed.
package motion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/grip_recorder/internal/config"
)

// ErrNotConnected is returned by Send when no serial link is open.
var ErrNotConnected = errors.New("motor: serial not connected")

// ErrNoPrompt is returned by Connect when the REPL prompt never showed up.
var ErrNoPrompt = errors.New("motor: REPL prompt not received")

// REPL control bytes used by the connection handshake.
const (
	ctrlB = 0x02 // exit raw REPL
	ctrlD = 0x04 // soft reboot
)

const pollInterval = 10 * time.Millisecond

// PortOpener opens the serial device. serial.Open in production.
type PortOpener func(serial.OpenOptions) (io.ReadWriteCloser, error)

// Options configures a Controller.
type Options struct {
	PortName       string
	BaudRate       uint
	BootDelay      time.Duration // wait after open before the handshake
	HandshakeDelay time.Duration // wait after the soft reboot
	ReadyTimeout   time.Duration // bound on waiting for the prompt
	Settle         time.Duration // wait after a command before reading the reply
	Prompt         string
}

// OptionsFromConfig maps the motor keys of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PortName:       cfg.MotorSerialPort,
		BaudRate:       uint(cfg.MotorBaudRate),
		BootDelay:      cfg.MotorBootDelay,
		HandshakeDelay: 500 * time.Millisecond,
		ReadyTimeout:   cfg.MotorReadyTimeout,
		Settle:         cfg.MotorSettle,
		Prompt:         cfg.MotorPrompt,
	}
}

// Controller owns the serial link to the motor board.
type Controller struct {
	opts Options
	open PortOpener

	mu        sync.Mutex // guards port and stop
	port      io.ReadWriteCloser
	stop      chan struct{}
	connected atomic.Bool

	cmdMu sync.Mutex // serializes Send

	rxMu sync.Mutex
	rx   bytes.Buffer

	ready atomic.Bool // last reply ended with the prompt
}

// NewController creates a disconnected controller. A nil opener uses serial.Open.
func NewController(opts Options, open PortOpener) *Controller {
	if open == nil {
		open = serial.Open
	}
	if opts.Prompt == "" {
		opts.Prompt = ">>>"
	}
	return &Controller{opts: opts, open: open}
}

// Connected reports whether the link is open and the REPL answered.
func (c *Controller) Connected() bool {
	return c.connected.Load()
}

// Connect opens the port, runs the REPL handshake and waits for the prompt.
// It fails closed: on any error the port is released and the controller
// stays disconnected.
func (c *Controller) Connect(ctx context.Context) error {
	if c.Connected() {
		log.Printf("motor: already connected on %s", c.opts.PortName)
		return nil
	}
	// a lost link leaves its port open
	if err := c.release(); err != nil {
		log.Printf("motor: closing stale port: %v", err)
	}
	log.Printf("motor: connecting to %s at %d baud", c.opts.PortName, c.opts.BaudRate)

	port, err := c.open(serial.OpenOptions{
		PortName:              c.opts.PortName,
		BaudRate:              c.opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	})
	if err != nil {
		log.Printf("motor: could not open %s: %v", c.opts.PortName, err)
		return fmt.Errorf("motor: open %s: %w", c.opts.PortName, err)
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.port = port
	c.stop = stop
	c.mu.Unlock()
	c.resetRx()
	go c.readLoop(port, stop)

	if err := c.handshake(ctx, port); err != nil {
		log.Printf("motor: connection failed: %v", err)
		c.release()
		return err
	}

	c.connected.Store(true)
	c.ready.Store(true)
	log.Printf("motor: connection established, board is ready")
	return nil
}

func (c *Controller) handshake(ctx context.Context, port io.Writer) error {
	if err := sleepCtx(ctx, c.opts.BootDelay); err != nil {
		return err
	}
	if _, err := port.Write([]byte{ctrlD}); err != nil {
		return fmt.Errorf("motor: soft reboot: %w", err)
	}
	if err := sleepCtx(ctx, c.opts.HandshakeDelay); err != nil {
		return err
	}
	c.drain()
	if _, err := port.Write([]byte{ctrlB}); err != nil {
		return fmt.Errorf("motor: exit raw REPL: %w", err)
	}
	if _, ok := c.waitForPrompt(ctx, c.opts.ReadyTimeout); !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrNoPrompt
	}
	return nil
}

// Send writes cmd, waits the settle interval and returns the text the board
// printed meanwhile. The reply is not interpreted.
func (c *Controller) Send(ctx context.Context, cmd Command) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if !c.Connected() || port == nil {
		log.Printf("motor: error: serial not connected for command")
		return "", ErrNotConnected
	}

	if c.ready.Load() {
		c.drain()
	} else if _, ok := c.waitForPrompt(ctx, c.opts.ReadyTimeout); !ok {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		log.Printf("motor: prompt not seen within %s, sending anyway", c.opts.ReadyTimeout)
	}
	c.ready.Store(false)

	line := cmd.String()
	if _, err := port.Write([]byte(line + "\r\n")); err != nil {
		return "", fmt.Errorf("motor: write %q: %w", line, err)
	}
	if err := sleepCtx(ctx, c.opts.Settle); err != nil {
		return "", err
	}

	resp := c.drain()
	if strings.HasSuffix(strings.TrimSpace(resp), c.opts.Prompt) {
		c.ready.Store(true)
	}
	return resp, nil
}

// Close releases the port. Safe to call more than once.
func (c *Controller) Close() error {
	wasConnected := c.connected.Swap(false)
	err := c.release()
	if wasConnected {
		log.Printf("motor: connection closed")
	}
	return err
}

func (c *Controller) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected.Store(false)
	if c.port == nil {
		return nil
	}
	close(c.stop)
	err := c.port.Close()
	c.port = nil
	c.stop = nil
	return err
}

// readLoop is the byte-level worker: it accumulates everything the board
// prints until the port is closed.
func (c *Controller) readLoop(port io.Reader, stop <-chan struct{}) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			c.rxMu.Lock()
			c.rx.Write(buf[:n])
			c.rxMu.Unlock()
		}
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			// VMIN=0 reads report io.EOF when the inter-character timer expires.
			if errors.Is(err, io.EOF) {
				continue
			}
			log.Printf("motor: serial read error, link lost: %v", err)
			c.connected.Store(false)
			return
		}
	}
}

func (c *Controller) resetRx() {
	c.rxMu.Lock()
	c.rx.Reset()
	c.rxMu.Unlock()
}

// drain returns and clears everything received so far.
func (c *Controller) drain() string {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	s := c.rx.String()
	c.rx.Reset()
	return s
}

// waitForPrompt polls the receive buffer until it contains the prompt or
// the timeout expires, consuming what it saw.
func (c *Controller) waitForPrompt(ctx context.Context, timeout time.Duration) (string, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	var seen strings.Builder
	for {
		seen.WriteString(c.drain())
		if strings.Contains(seen.String(), c.opts.Prompt) {
			return seen.String(), true
		}
		select {
		case <-ctx.Done():
			return seen.String(), false
		case <-deadline.C:
			return seen.String(), false
		case <-tick.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
