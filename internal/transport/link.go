// Package transport moves protocol bytes between the sensor and the host
// over TCP, a serial line or a recorded capture, and supervises each
// endpoint's connection lifecycle.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/footfall/internal/monitoring"
	"github.com/banshee-data/footfall/internal/timeutil"
)

// ErrTransport wraps every dial, read and write failure. A Link treats it
// as recoverable.
var ErrTransport = errors.New("transport error")

// DefaultBackoff is the fixed delay between reconnect attempts.
const DefaultBackoff = 5 * time.Second

// State is the connection state of one endpoint.
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
)

var stateNames = [...]string{"disconnected", "connecting", "streaming"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn is an open byte stream to the peer.
type Conn interface {
	io.ReadWriteCloser
}

// Endpoint opens connections to one peer. Open blocks until a connection
// is established, ctx ends or the attempt fails.
type Endpoint interface {
	Name() string
	Open(ctx context.Context) (Conn, error)
}

// Handler consumes one connection. It returns when the connection fails
// (the Link reconnects) or ctx ends.
type Handler func(ctx context.Context, conn Conn) error

// Link drives an Endpoint through DISCONNECTED → CONNECTING → STREAMING
// and back, retrying with a fixed backoff until its context ends.
type Link struct {
	endpoint Endpoint
	backoff  time.Duration
	clock    timeutil.Clock

	state    atomic.Int32
	attempts atomic.Uint64

	mu       sync.Mutex
	onChange []func(State)
	lastErr  error
}

// LinkOption customises a Link.
type LinkOption func(*Link)

// WithBackoff overrides DefaultBackoff.
func WithBackoff(d time.Duration) LinkOption {
	return func(l *Link) {
		if d > 0 {
			l.backoff = d
		}
	}
}

// WithClock substitutes the clock used for backoff waits.
func WithClock(c timeutil.Clock) LinkOption {
	return func(l *Link) { l.clock = c }
}

// NewLink wraps ep.
func NewLink(ep Endpoint, opts ...LinkOption) *Link {
	l := &Link{endpoint: ep, backoff: DefaultBackoff, clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(l)
	}
	l.publish(Disconnected)
	return l
}

// Name returns the endpoint name.
func (l *Link) Name() string { return l.endpoint.Name() }

// State returns the current state.
func (l *Link) State() State { return State(l.state.Load()) }

// Attempts counts Open calls so far.
func (l *Link) Attempts() uint64 { return l.attempts.Load() }

// LastError returns the most recent connection or stream failure.
func (l *Link) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// OnStateChange registers f to be called after every transition.
func (l *Link) OnStateChange(f func(State)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, f)
	l.mu.Unlock()
}

func (l *Link) publish(s State) {
	l.state.Store(int32(s))
	for i, name := range stateNames {
		v := 0.0
		if State(i) == s {
			v = 1
		}
		monitoring.LinkState.WithLabelValues(l.endpoint.Name(), name).Set(v)
	}
	l.mu.Lock()
	hooks := append(([]func(State))(nil), l.onChange...)
	l.mu.Unlock()
	for _, f := range hooks {
		f(s)
	}
}

func (l *Link) fail(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// Run connects and hands each connection to h until ctx ends. It only
// returns ctx.Err(); transport failures are logged and retried.
func (l *Link) Run(ctx context.Context, h Handler) error {
	defer func() {
		if l.State() != Disconnected {
			l.publish(Disconnected)
		}
	}()
	name := l.endpoint.Name()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.publish(Connecting)
		if l.attempts.Add(1) > 1 {
			monitoring.LinkReconnects.WithLabelValues(name).Inc()
		}
		conn, err := l.endpoint.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.fail(err)
			l.publish(Disconnected)
			monitoring.Logf("[Link %s] connect failed: %v; retrying in %v", name, err, l.backoff)
			if err := l.wait(ctx); err != nil {
				return err
			}
			continue
		}

		l.publish(Streaming)
		monitoring.Logf("[Link %s] streaming", name)
		err = l.serve(ctx, h, conn)
		l.publish(Disconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("%w: %s: stream ended", ErrTransport, name)
		}
		l.fail(err)
		monitoring.Logf("[Link %s] disconnected: %v; retrying in %v", name, err, l.backoff)
		if err := l.wait(ctx); err != nil {
			return err
		}
	}
}

// serve closes conn however h returns, including by panic, so the peer
// sees the disconnect even when a supervisor recovers the handler.
func (l *Link) serve(ctx context.Context, h Handler, conn Conn) error {
	defer conn.Close()
	return h(ctx, conn)
}

func (l *Link) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(l.backoff):
		return nil
	}
}
