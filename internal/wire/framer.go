package wire

import (
	"bytes"
	"errors"
)

// ErrFrameSync is returned by Framer.Feed when delimiters arrived out of
// order and the framer discarded bytes to resynchronise.
var ErrFrameSync = errors.New("frame sync lost")

// DefaultMaxFrameBytes bounds a single open frame. A 10-person frame is
// under 4 KiB.
const DefaultMaxFrameBytes = 64 << 10

var (
	startMarker = []byte(FrameStart)
	endMarker   = []byte(FrameEnd)
)

// Framer recovers frame payloads from a byte stream delivered in arbitrary
// chunks. It keeps at most one partial frame between calls. A Framer is
// not safe for concurrent use; each connection owns one.
type Framer struct {
	// MaxFrameBytes caps an open frame; zero means DefaultMaxFrameBytes.
	MaxFrameBytes int

	buf []byte
	// open is true when buf starts with a start marker.
	open bool
	// scanned is the offset in buf up to which no end marker was found.
	scanned int
}

// Reset discards any partial frame. Call it when the underlying
// connection is replaced.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.open = false
	f.scanned = 0
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Feed appends chunk to the stream and returns every payload completed by
// it, trimmed of surrounding whitespace. When delimiters were out of order
// the returned error is ErrFrameSync; payloads completed in the same call
// are still returned.
func (f *Framer) Feed(chunk []byte) ([]string, error) {
	f.buf = append(f.buf, chunk...)

	var (
		frames []string
		synced bool
	)
	for {
		if !f.open {
			if !f.seekStart(&synced) {
				break
			}
		}

		// buf starts with "/B"; look for the matching end marker without
		// rescanning bytes already examined.
		from := f.scanned
		if from < len(startMarker) {
			from = len(startMarker)
		}
		rest := f.buf[from:]
		end := bytes.Index(rest, endMarker)
		restart := bytes.Index(rest, startMarker)

		if restart >= 0 && (end < 0 || restart < end) {
			// A new frame began before this one ended; the open frame lost
			// its terminator.
			f.consume(from + restart)
			synced = true
			continue
		}
		if end < 0 {
			// Keep one byte back in case a delimiter is split across chunks.
			f.scanned = len(f.buf) - 1
			if f.scanned < len(startMarker) {
				f.scanned = len(startMarker)
			}
			if len(f.buf) > f.maxFrame() {
				f.Reset()
				synced = true
			}
			break
		}

		payload := bytes.TrimSpace(f.buf[len(startMarker) : from+end])
		frames = append(frames, string(payload))
		f.consume(from + end + len(endMarker))
		f.open = false
	}

	if synced {
		return frames, ErrFrameSync
	}
	return frames, nil
}

// seekStart positions buf at the next start marker. It returns false when
// more input is needed.
func (f *Framer) seekStart(synced *bool) bool {
	start := bytes.Index(f.buf, startMarker)
	if start < 0 {
		if bytes.Contains(f.buf, endMarker) {
			*synced = true
		}
		// Nothing here can become a frame except a split "/".
		if n := len(f.buf); n > 0 && f.buf[n-1] == '/' {
			f.consume(n - 1)
		} else {
			f.buf = f.buf[:0]
		}
		return false
	}
	if bytes.Contains(f.buf[:start], endMarker) {
		*synced = true
	}
	f.consume(start)
	f.open = true
	return true
}

// consume drops the first n bytes of buf.
func (f *Framer) consume(n int) {
	m := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:m]
	f.scanned = 0
}

func (f *Framer) maxFrame() int {
	if f.MaxFrameBytes > 0 {
		return f.MaxFrameBytes
	}
	return DefaultMaxFrameBytes
}
