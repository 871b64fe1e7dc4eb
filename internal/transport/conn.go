package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hecticradio.app/live/common/logger"
)

const (
	writeWait = 10 * time.Second

	pongWait = 60 * time.Second

	// must be less than pongWait
	pingPeriod = 54 * time.Second

	maxMessageSize = 64 * 1024
)

// Conn is one client connection. Room membership is guarded by the hub.
type Conn struct {
	ID         string
	RemoteAddr string
	// Admin is set for connections that presented the admin key.
	Admin bool

	hub       *Hub
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	rooms     map[string]struct{}
}

type ConnOption func(*Conn)

func WithAdmin(admin bool) ConnOption {
	return func(c *Conn) {
		c.Admin = admin
	}
}

func newConn(h *Hub, id string, ws *websocket.Conn, buffer int) *Conn {
	return &Conn{
		ID:      id,
		hub:     h,
		ws:      ws,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		rooms:   make(map[string]struct{}),
	}
}

func (c *Conn) context(ctx context.Context) context.Context {
	connID := c.ID
	return logger.WithLogFields(ctx, logger.LogFields{
		ConnID:    &connID,
		Component: "live.transport",
	})
}

// Close stops both pumps. It is safe from any goroutine; the disconnect
// callbacks run later on the read goroutine, after any handler still in
// flight for this connection has returned.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Stopped is closed once the connection is removed from the hub and its
// disconnect callbacks have run.
func (c *Conn) Stopped() <-chan struct{} {
	return c.stopped
}

// enqueue never blocks: a client that cannot keep up loses the frame.
func (c *Conn) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.hub.metrics.FrameDropped()
		slog.WarnContext(c.context(context.Background()), "send buffer full, dropping frame")
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		c.hub.remove(c)
		close(c.stopped)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				slog.WarnContext(c.context(context.Background()), "websocket read error", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			slog.WarnContext(c.context(context.Background()), "dropping malformed frame",
				"error", err,
				"payload", logger.Truncate(string(raw), 200))
			continue
		}

		c.hub.dispatch(c, frame)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
