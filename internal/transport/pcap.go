package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPReplay replays the TCP payloads of a recorded session as if the
// sensor were connected. Each Open restarts the file from the beginning.
type PCAPReplay struct {
	Path string
	// Port selects segments whose source or destination is this port.
	Port int
	// Realtime paces payloads by their capture timestamps.
	Realtime bool
}

// NewPCAPReplay validates that path is readable.
func NewPCAPReplay(path string, port int, realtime bool) (*PCAPReplay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	f.Close()
	return &PCAPReplay{Path: path, Port: port, Realtime: realtime}, nil
}

// Name implements Endpoint.
func (p *PCAPReplay) Name() string { return "pcap " + p.Path }

// Open implements Endpoint.
func (p *PCAPReplay) Open(ctx context.Context) (Conn, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open capture: %v", ErrTransport, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read capture header: %v", ErrTransport, err)
	}
	return &pcapConn{ctx: ctx, file: f, reader: r, port: layers.TCPPort(p.Port), realtime: p.Realtime}, nil
}

// pcapConn is a read-only Conn over the filtered payload stream.
type pcapConn struct {
	ctx      context.Context
	file     *os.File
	reader   *pcapgo.Reader
	port     layers.TCPPort
	realtime bool

	mu      sync.Mutex
	pending []byte
	lastTS  time.Time
	packets int
}

func (c *pcapConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) == 0 {
		payload, err := c.next()
		if err != nil {
			return 0, err
		}
		c.pending = payload
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// next returns the next matching non-empty TCP payload.
func (c *pcapConn) next() ([]byte, error) {
	for {
		data, ci, err := c.reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read packet %d: %w", c.packets, err)
		}
		c.packets++

		pkt := gopacket.NewPacket(data, c.reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || len(tcp.Payload) == 0 {
			continue
		}
		if c.port != 0 && tcp.SrcPort != c.port && tcp.DstPort != c.port {
			continue
		}
		if err := c.pace(ci.Timestamp); err != nil {
			return nil, err
		}
		return tcp.Payload, nil
	}
}

func (c *pcapConn) pace(ts time.Time) error {
	defer func() { c.lastTS = ts }()
	if !c.realtime || c.lastTS.IsZero() {
		return nil
	}
	gap := ts.Sub(c.lastTS)
	if gap <= 0 {
		return nil
	}
	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *pcapConn) Write([]byte) (int, error) {
	return 0, errors.New("capture replay is read-only")
}

func (c *pcapConn) Close() error { return c.file.Close() }
