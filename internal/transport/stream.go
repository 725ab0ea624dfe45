package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// DefaultReadTimeout bounds each blocking read so a reader notices
// cancellation promptly.
const DefaultReadTimeout = 250 * time.Millisecond

// DefaultChunkSize matches the host's receive buffer.
const DefaultChunkSize = 8192

type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

type timeoutReader interface {
	SetReadTimeout(d time.Duration) error
}

// ReadLoop reads chunks from conn and passes each to fn until ctx ends,
// the peer closes or a read fails. Reads are bounded by timeout so ctx is
// observed; timeouts themselves are not errors. The slice passed to fn is
// reused between calls.
func ReadLoop(ctx context.Context, conn Conn, chunkSize int, timeout time.Duration, fn func([]byte)) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if tr, ok := conn.(timeoutReader); ok {
		if err := tr.SetReadTimeout(timeout); err != nil {
			return fmt.Errorf("%w: set read timeout: %v", ErrTransport, err)
		}
	}
	dr, hasDeadline := conn.(deadlineReader)

	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if hasDeadline {
			dr.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: peer closed connection", ErrTransport)
		}
		return fmt.Errorf("%w: read: %v", ErrTransport, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// WriteFull writes all of p, wrapping failures in ErrTransport.
func WriteFull(conn Conn, p []byte) error {
	for len(p) > 0 {
		n, err := conn.Write(p)
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			return fmt.Errorf("%w: write: %v", ErrTransport, err)
		}
		p = p[n:]
	}
	return nil
}
