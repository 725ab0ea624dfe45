package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrPortClosed is returned by TestablePort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort is an in-memory SerialPorter with controllable data and
// failures. An empty read blocks for the configured read timeout and then
// returns 0, nil, like a real serial port.
type TestablePort struct {
	mu   sync.Mutex
	cond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// ReadError and WriteError are returned once by the next call.
	ReadError  error
	WriteError error

	Closed      bool
	ReadTimeout time.Duration
	ReadCalls   int
	WriteCalls  int
}

// NewTestablePort returns an open, empty port.
func NewTestablePort() *TestablePort {
	p := &TestablePort{ReadTimeout: 10 * time.Millisecond}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read returns buffered data, waiting up to ReadTimeout for some to arrive.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadCalls++

	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}

	if p.readBuf.Len() == 0 && !p.Closed {
		timer := time.AfterFunc(p.ReadTimeout, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		deadline := time.Now().Add(p.ReadTimeout)
		for p.readBuf.Len() == 0 && !p.Closed && time.Now().Before(deadline) {
			p.cond.Wait()
		}
		timer.Stop()
	}
	if p.Closed {
		return 0, ErrPortClosed
	}
	if p.readBuf.Len() == 0 {
		return 0, nil
	}
	return p.readBuf.Read(b)
}

// Write appends to the captured output.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteCalls++

	if p.Closed {
		return 0, ErrPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	return p.writeBuf.Write(b)
}

// Close marks the port closed and wakes blocked readers.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

// SetReadTimeout implements SerialPorter.
func (p *TestablePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		return fmt.Errorf("read timeout %v must be positive", d)
	}
	p.ReadTimeout = d
	return nil
}

// Feed queues data for subsequent reads.
func (p *TestablePort) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.cond.Broadcast()
}

// Written returns a copy of everything written so far.
func (p *TestablePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.writeBuf.Bytes())
}

// IsClosed reports whether Close was called.
func (p *TestablePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// PortFactory hands out queued ports to a SerialEndpoint and records each
// open request.
type PortFactory struct {
	mu    sync.Mutex
	ports []SerialPorter
	// Err, when set, fails the next open.
	Err   error
	Calls []OpenCall
}

// OpenCall records one open request.
type OpenCall struct {
	Path string
	Mode serial.Mode
}

// NewPortFactory queues ports to return in order.
func NewPortFactory(ports ...SerialPorter) *PortFactory {
	return &PortFactory{ports: ports}
}

// Open is a SerialOpener.
func (f *PortFactory) Open(path string, mode *serial.Mode) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, OpenCall{Path: path, Mode: *mode})
	if f.Err != nil {
		err := f.Err
		f.Err = nil
		return nil, err
	}
	if len(f.ports) == 0 {
		return nil, errors.New("no such device")
	}
	p := f.ports[0]
	f.ports = f.ports[1:]
	return p, nil
}

// CallCount returns the number of open requests.
func (f *PortFactory) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// StaticEndpoint is an Endpoint returning pre-built connections in order,
// then failing. It lets pipeline tests run without sockets.
type StaticEndpoint struct {
	Label string

	mu    sync.Mutex
	conns []Conn
	opens int
}

// NewStaticEndpoint queues conns.
func NewStaticEndpoint(label string, conns ...Conn) *StaticEndpoint {
	return &StaticEndpoint{Label: label, conns: conns}
}

// Name implements Endpoint.
func (s *StaticEndpoint) Name() string { return s.Label }

// Open implements Endpoint.
func (s *StaticEndpoint) Open(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.conns) == 0 {
		return nil, fmt.Errorf("%w: %s: no connection available", ErrTransport, s.Label)
	}
	c := s.conns[0]
	s.conns = s.conns[1:]
	return c, nil
}

// Opens counts Open calls.
func (s *StaticEndpoint) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}
