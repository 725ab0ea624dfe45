// Package monitoring holds the process-wide diagnostic logger and the
// Prometheus collectors shared by the pipeline stages.
package monitoring

import (
	"context"
	"log"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Every passes through the first call to Logf and then one in every N.
// The zero value logs every call.
type Every struct {
	N     uint64
	count atomic.Uint64
}

// Logf logs through the package logger when the sample is due, appending
// the number of occurrences so far.
func (e *Every) Logf(format string, v ...interface{}) {
	c := e.count.Add(1)
	if e.N > 1 && (c-1)%e.N != 0 {
		return
	}
	Logf(format+" (occurrence %d)", append(v, c)...)
}

// Count returns the number of calls so far, logged or not.
func (e *Every) Count() uint64 { return e.count.Load() }

// Slog returns a structured logger whose records are written through Logf,
// so the supervisor's events share the same sink and mute switch as the
// rest of the process.
func Slog(level slog.Level) *slog.Logger {
	return slog.New(logfHandler{level: level})
}

type logfHandler struct {
	level slog.Level
	attrs []slog.Attr
	group string
}

func (h logfHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h logfHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(r.Level.String())
	sb.WriteString("] ")
	sb.WriteString(r.Message)
	write := func(a slog.Attr) {
		if a.Equal(slog.Attr{}) {
			return
		}
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		sb.WriteString(a.Value.Resolve().String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if !a.Equal(slog.Attr{}) {
			write(h.qualify(a))
		}
		return true
	})
	Logf("%s", sb.String())
	return nil
}

// qualify prefixes a's key with the open group, if any.
func (h logfHandler) qualify(a slog.Attr) slog.Attr {
	if h.group != "" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

func (h logfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		merged = append(merged, h.qualify(a))
	}
	h.attrs = merged
	return h
}

func (h logfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	if h.group != "" {
		name = h.group + "." + name
	}
	h.group = name
	return h
}
