package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/footfall/internal/monitoring"
	"github.com/banshee-data/footfall/internal/pipeline"
	"github.com/banshee-data/footfall/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 8
)

// Message types sent to live-feed subscribers.
const (
	MessageHello  = "hello"
	MessageRender = "render"
)

// Message is one live-feed update.
type Message struct {
	Type       string           `json:"type"`
	Subscriber string           `json:"subscriber,omitempty"`
	Seq        uint64           `json:"seq,omitempty"`
	Time       time.Time        `json:"time,omitempty"`
	Horizon    string           `json:"horizon,omitempty"`
	Count      int              `json:"count"`
	Detections []wire.Detection `json:"detections,omitempty"`
}

// Hub fans render updates out to websocket subscribers. A subscriber that
// cannot keep up misses updates; it is never allowed to stall the render
// stage.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closed  bool
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub returns an empty hub accepting same-origin and tool clients.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  16 * 1024,
			HandshakeTimeout: 10 * time.Second,
		},
		clients: make(map[uuid.UUID]*client),
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Present implements pipeline.Sink.
func (h *Hub) Present(out *pipeline.Output) {
	h.Broadcast(Message{
		Type:       MessageRender,
		Seq:        out.Seq,
		Time:       out.Time,
		Horizon:    out.Horizon.String(),
		Count:      len(out.Detections),
		Detections: out.Detections,
	})
}

// Broadcast queues msg for every subscriber, skipping those whose buffer
// is full.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		monitoring.Logf("[Hub] failed to encode %s message: %v", msg.Type, err)
		return
	}
	for _, c := range h.clients {
		select {
		case c.send <- b:
		default:
			monitoring.RecordMailboxDrop("websocket")
		}
	}
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		monitoring.Logf("[Hub] upgrade failed: %v", err)
		return
	}
	c := &client{id: uuid.New(), conn: conn, send: make(chan []byte, sendBuffer)}
	hello, _ := json.Marshal(Message{Type: MessageHello, Subscriber: c.id.String()})
	c.send <- hello

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	monitoring.Logf("[Hub] subscriber %s connected from %s", c.id, r.RemoteAddr)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	h.mu.Unlock()
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				monitoring.Logf("[Hub] subscriber %s: %v", c.id, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve implements suture.Service: it holds the hub open until ctx ends
// and then disconnects every subscriber.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Hub) String() string { return "websocket-hub" }
