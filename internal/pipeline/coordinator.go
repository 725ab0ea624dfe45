// Package pipeline wires the capture, decode, encode and render stages
// together through single-slot mailboxes and runs them under a supervisor.
//
// Each stage is a suture.Service. A stage that fails is restarted by the
// supervisor; transport failures never reach it because the stages run
// their endpoint through a transport.Link, which reconnects on its own.
// Shutdown cancels every stage, waits at most the configured timeout for
// each, reports the ones that did not stop, and then runs the registered
// closers (transports, devices, mailboxes) in reverse order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/banshee-data/footfall/internal/monitoring"
)

// DefaultShutdownTimeout bounds how long one stage may take to stop.
const DefaultShutdownTimeout = 3 * time.Second

// Coordinator owns the supervisor tree for one process.
type Coordinator struct {
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	services []suture.Service
	closers  []namedCloser
	running  bool
}

type namedCloser struct {
	name string
	fn   func() error
}

// NewCoordinator returns a coordinator whose stages each get timeout to
// stop. A non-positive timeout selects DefaultShutdownTimeout.
func NewCoordinator(name string, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Coordinator{
		name:    name,
		timeout: timeout,
		logger:  monitoring.Slog(slog.LevelInfo),
	}
}

// Add registers a stage. Stages must be added before Run.
func (c *Coordinator) Add(svc suture.Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = append(c.services, svc)
}

// OnShutdown registers fn to run once every stage has stopped or been
// abandoned. Closers run in reverse registration order.
func (c *Coordinator) OnShutdown(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, namedCloser{name: name, fn: fn})
}

// Run supervises the registered stages until ctx ends or a stage
// terminates the tree. A cancelled context is a clean exit and returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("coordinator already running")
	}
	c.running = true
	services := append([]suture.Service(nil), c.services...)
	c.mu.Unlock()

	handler := &sutureslog.Handler{Logger: c.logger}
	sup := suture.New(c.name, suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   time.Second,
		Timeout:          c.timeout,
	})
	for _, svc := range services {
		sup.Add(svc)
	}

	monitoring.Logf("[Coordinator %s] starting %d stages", c.name, len(services))
	started := time.Now()
	err := <-sup.ServeBackground(ctx)

	if report, rerr := sup.UnstoppedServiceReport(); rerr == nil {
		for _, u := range report {
			monitoring.Logf("[Coordinator %s] stage %s did not stop within %v; abandoned", c.name, u.Name, c.timeout)
		}
	}
	c.close()
	monitoring.Logf("[Coordinator %s] stopped after %v", c.name, time.Since(started).Round(time.Millisecond))

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return fmt.Errorf("supervisor %s: %w", c.name, err)
}

func (c *Coordinator) close() {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			monitoring.Logf("[Coordinator %s] closing %s: %v", c.name, closers[i].name, err)
		}
	}
}
