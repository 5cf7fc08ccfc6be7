package motion

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

const simBanner = "MicroPython v1.22.0 on 2024-02-22; Raspberry Pi Pico W with RP2040\r\n" +
	"Type \"help()\" for more information.\r\n>>> "

// SimPort emulates the motor board's REPL in memory. It is used for dry runs
// (SIMULATE=true) and by the tests.
type SimPort struct {
	// Silent makes the board never answer, so no prompt ever arrives.
	Silent bool

	mu       sync.Mutex
	pending  []byte
	line     bytes.Buffer
	commands []string

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSimPort returns a simulated board ready to be opened.
func NewSimPort() *SimPort {
	return &SimPort{
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Opener returns a PortOpener handing out this port.
func (p *SimPort) Opener() PortOpener {
	return func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return p, nil
	}
}

// Commands returns the command lines received so far.
func (p *SimPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Read behaves like a VMIN=0, VTIME=1 tty: it returns io.EOF when nothing
// arrives within 100ms.
func (p *SimPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case <-p.closed:
		return 0, os.ErrClosed
	case chunk := <-p.out:
		n := copy(b, chunk)
		if n < len(chunk) {
			p.mu.Lock()
			p.pending = append(p.pending, chunk[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-time.After(100 * time.Millisecond):
		return 0, io.EOF
	}
}

func (p *SimPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range b {
		switch ch {
		case ctrlD:
			p.emit(simBanner)
		case ctrlB:
			p.emit("\r\n>>> ")
		case '\r':
		case '\n':
			cmd := p.line.String()
			p.line.Reset()
			p.commands = append(p.commands, cmd)
			p.emit(cmd + "\r\n>>> ")
		default:
			p.line.WriteByte(ch)
		}
	}
	return len(b), nil
}

func (p *SimPort) emit(s string) {
	if p.Silent {
		return
	}
	select {
	case p.out <- []byte(s):
	default:
	}
}

// Close is idempotent.
func (p *SimPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
