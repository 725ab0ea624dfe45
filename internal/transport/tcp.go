package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/footfall/internal/monitoring"
)

// acceptPoll bounds each Accept so cancellation is noticed.
const acceptPoll = 100 * time.Millisecond

// TCPListener accepts the sensor's connection on the host. Only one client
// is served at a time; later clients wait in the backlog until the current
// connection ends. The listening socket outlives individual connections.
type TCPListener struct {
	Addr string

	mu sync.Mutex
	ln *net.TCPListener
}

// NewTCPListener returns an endpoint listening on addr once opened.
func NewTCPListener(addr string) *TCPListener {
	return &TCPListener{Addr: addr}
}

// Name implements Endpoint.
func (t *TCPListener) Name() string { return "tcp-listen " + t.Addr }

func (t *TCPListener) listener(ctx context.Context) (*net.TCPListener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return t.ln, nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrTransport, t.Addr, err)
	}
	t.ln = ln.(*net.TCPListener)
	monitoring.Logf("[TCP] listening on %s", t.ln.Addr())
	return t.ln, nil
}

// ListenAddr returns the bound address, or nil before the first Open.
func (t *TCPListener) ListenAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// Bind opens the listening socket without waiting for a client.
func (t *TCPListener) Bind(ctx context.Context) error {
	_, err := t.listener(ctx)
	return err
}

// Open implements Endpoint by waiting for the next client.
func (t *TCPListener) Open(ctx context.Context) (Conn, error) {
	ln, err := t.listener(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		ln.SetDeadline(time.Now().Add(acceptPoll))
		conn, err := ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, fmt.Errorf("%w: accept: %v", ErrTransport, err)
		}
		monitoring.Logf("[TCP] client connected from %s", conn.RemoteAddr())
		return conn, nil
	}
}

// Close releases the listening socket.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	err := t.ln.Close()
	t.ln = nil
	return err
}

// TCPDialer connects the sensor to the host.
type TCPDialer struct {
	Addr        string
	DialTimeout time.Duration
}

// NewTCPDialer returns an endpoint dialling addr.
func NewTCPDialer(addr string) *TCPDialer {
	return &TCPDialer{Addr: addr, DialTimeout: 5 * time.Second}
}

// Name implements Endpoint.
func (t *TCPDialer) Name() string { return "tcp-dial " + t.Addr }

// Open implements Endpoint.
func (t *TCPDialer) Open(ctx context.Context) (Conn, error) {
	d := net.Dialer{Timeout: t.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, t.Addr, err)
	}
	return conn, nil
}
