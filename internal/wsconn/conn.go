// Package wsconn adapts a gorilla websocket to broadcast.Conn.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.  Client frames are small
	// subscribe/unsubscribe requests.
	maxMessageSize = 4096
)

// ErrClosed is returned by Send after the connection was closed.
var ErrClosed = errors.New("wsconn: connection closed")

// Conn wraps a websocket.  Writes go through one mutex because gorilla
// allows a single concurrent writer; Close and control frames may be used
// from any goroutine.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	writeWait time.Duration
	pongWait  time.Duration
}

// Option configures a Conn.
type Option func(*Conn)

// WithWriteWait sets the upper bound for a single write.
func WithWriteWait(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.writeWait = d
		}
	}
}

// WithPongWait sets how long the peer may stay silent before reads fail.
func WithPongWait(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.pongWait = d
		}
	}
}

// New wraps ws, installs the read limit and the pong handler that keeps
// the read deadline moving.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:        ws,
		done:      make(chan struct{}),
		writeWait: defaultWriteWait,
		pongWait:  defaultPongWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(c.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	return c
}

// Send writes msg as one text frame.  The write deadline is the earlier of
// ctx's deadline and the configured write wait.  A failed write closes the
// connection.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// SendJSON encodes v and sends it.  Safe to use alongside hub deliveries;
// all writes share the writer mutex.
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(ctx, b)
}

// IsOpen reports whether Close has not been called yet.
func (c *Conn) IsOpen() bool { return !c.closed.Load() }

// Close sends a close frame and closes the socket.  Safe to call more than
// once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// ReadMessage returns the next data frame from the peer.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	return msg, err
}

// KeepAlive pings the peer until the connection closes.  Run it in its own
// goroutine; a failed ping closes the connection.
func (c *Conn) KeepAlive() {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// IsUnexpectedClose reports whether err is anything other than an orderly
// close by the peer.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
