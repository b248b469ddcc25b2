// Package ws adapts gorilla/websocket connections to the collab frame transport.
package ws

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxFrameSize bounds a single inbound frame.
const MaxFrameSize = 8 << 20

// DefaultWriteTimeout is used when a zero write timeout is configured.
const DefaultWriteTimeout = 10 * time.Second

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("ws: connection closed")

// Handler receives inbound traffic from Serve. *connection.Connection implements it.
type Handler interface {
	HandleMessage(data []byte)
	HandlePong()
	Close()
}

// NewUpgrader returns an upgrader accepting the given origins. An empty list accepts any origin;
// requests without an Origin header are always accepted.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}

// Conn is a websocket connection carrying binary collab frames. Writes are serialized.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Wrap adapts an upgraded websocket connection.
func Wrap(c *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	c.SetReadLimit(MaxFrameSize)
	return &Conn{ws: c, writeTimeout: writeTimeout}
}

// Send writes one binary frame.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Ping writes a ping control frame.
func (c *Conn) Ping() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a normal close frame and closes the socket. Later calls are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

// Serve reads frames until the socket fails or closes, delivering them to h in arrival order.
// Text frames are ignored. When the read loop ends, h.Close is called.
func (c *Conn) Serve(h Handler) {
	defer h.Close()
	c.ws.SetPongHandler(func(string) error {
		h.HandlePong()
		return nil
	})
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Printf("ws: read: %v", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		h.HandleMessage(data)
	}
}
