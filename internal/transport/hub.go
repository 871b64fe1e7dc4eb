package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/metrics"
)

// Frame is the wire format in both directions: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler processes one inbound event. Handlers for a connection run on its
// read goroutine, so events from one client are handled in order.
type Handler func(ctx context.Context, conn *Conn, data json.RawMessage)

// Transport is what presence, chat and broadcast need from the connection
// layer. Room emits reach every process when an Adapter is attached.
type Transport interface {
	EmitToRoom(ctx context.Context, room, event string, payload any, except ...string)
	EmitToConn(ctx context.Context, connID, event string, payload any)
	Join(connID, room string)
	Leave(connID, room string)
}

// Adapter forwards room emits to other processes.
type Adapter interface {
	Publish(ctx context.Context, room, event string, data json.RawMessage, except []string)
}

type Config struct {
	AllowedOrigins []string
	SendBuffer     int
}

type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	metrics  *metrics.Collector

	mu           sync.RWMutex
	conns        map[string]*Conn
	rooms        map[string]map[string]*Conn
	handlers     map[string]Handler
	onConnect    []func(ctx context.Context, conn *Conn)
	onDisconnect []func(ctx context.Context, conn *Conn)
	adapter      Adapter
}

var _ Transport = (*Hub)(nil)

func NewHub(cfg Config, m *metrics.Collector) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	h := &Hub{
		cfg:      cfg,
		metrics:  m,
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		handlers: make(map[string]Handler),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows requests without an Origin header (non-browser clients)
// and browsers whose origin is configured. "*" allows everything.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	slog.WarnContext(r.Context(), "websocket origin rejected", "origin", origin)
	return false
}

func (h *Hub) On(event string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = handler
}

func (h *Hub) OnConnect(fn func(ctx context.Context, conn *Conn)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

// OnDisconnect callbacks run exactly once per connection, however the
// connection ended.
func (h *Hub) OnDisconnect(fn func(ctx context.Context, conn *Conn)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

func (h *Hub) SetAdapter(a Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapter = a
}

// Serve upgrades the request and starts the connection's pumps. It returns
// once the connection is registered and the connect callbacks have run.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, opts ...ConnOption) (*Conn, error) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading connection: %w", err)
	}

	conn := newConn(h, uuid.NewString(), ws, h.cfg.SendBuffer)
	conn.RemoteAddr = r.RemoteAddr
	for _, opt := range opts {
		opt(conn)
	}

	h.mu.Lock()
	h.conns[conn.ID] = conn
	connectHooks := slices.Clone(h.onConnect)
	h.mu.Unlock()
	h.metrics.ConnOpened()

	ctx := conn.context(context.Background())
	slog.DebugContext(ctx, "connection opened", "remote_addr", conn.RemoteAddr, "admin", conn.Admin)

	for _, fn := range connectHooks {
		h.safeCall(ctx, "connect", func() { fn(ctx, conn) })
	}

	go conn.writePump()
	go conn.readPump()

	return conn, nil
}

func (h *Hub) dispatch(conn *Conn, frame Frame) {
	h.mu.RLock()
	handler, ok := h.handlers[frame.Event]
	h.mu.RUnlock()

	event := frame.Event
	ctx := logger.WithLogFields(conn.context(context.Background()), logger.LogFields{Event: &event})

	if !ok {
		slog.DebugContext(ctx, "no handler for event")
		return
	}
	h.metrics.FrameReceived(event)
	h.safeCall(ctx, event, func() { handler(ctx, conn, frame.Data) })
}

// safeCall keeps a panicking handler from taking down the connection's
// read loop or the process.
func (h *Hub) safeCall(ctx context.Context, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in socket handler",
				"panic", r,
				"handler", what)
		}
	}()
	fn()
}

// remove unregisters a connection and runs the disconnect callbacks. Called
// once per connection when its read goroutine exits.
func (h *Hub) remove(conn *Conn) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	for room := range conn.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, conn.ID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	conn.rooms = nil
	hooks := slices.Clone(h.onDisconnect)
	h.mu.Unlock()
	h.metrics.ConnClosed()

	ctx := conn.context(context.Background())
	slog.DebugContext(ctx, "connection closed")
	for _, fn := range hooks {
		h.safeCall(ctx, "disconnect", func() { fn(ctx, conn) })
	}
}

func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connID]
	if !ok || conn.rooms == nil {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[connID] = conn
	conn.rooms[room] = struct{}{}
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if conn, ok := h.conns[connID]; ok && conn.rooms != nil {
		delete(conn.rooms, room)
	}
}

// Rooms lists the rooms a local connection is in.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conn.rooms))
	for room := range conn.rooms {
		out = append(out, room)
	}
	slices.Sort(out)
	return out
}

// ConnCount is the number of open connections on this process.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// EmitToRoom delivers to local members of room, skipping except, and hands
// the frame to the adapter for other processes.
func (h *Hub) EmitToRoom(ctx context.Context, room, event string, payload any, except ...string) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event payload", "error", err, "event", event, "room", room)
		return
	}

	h.DeliverLocal(ctx, room, event, data, except)

	h.mu.RLock()
	adapter := h.adapter
	h.mu.RUnlock()
	if adapter != nil {
		adapter.Publish(ctx, room, event, data, except)
	}
}

// DeliverLocal sends an already encoded payload to this process's members of
// room. Adapters call it for frames published elsewhere.
func (h *Hub) DeliverLocal(ctx context.Context, room, event string, data json.RawMessage, except []string) {
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode frame", "error", err, "event", event)
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[room]))
	for connID, conn := range h.rooms[room] {
		if !slices.Contains(except, connID) {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.enqueue(msg)
	}
}

// EmitToConn sends to a single local connection. Unknown ids are ignored.
func (h *Hub) EmitToConn(ctx context.Context, connID, event string, payload any) {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event payload", "error", err, "event", event)
		return
	}
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode frame", "error", err, "event", event)
		return
	}
	conn.enqueue(msg)
}

// Disconnect closes a local connection. The disconnect callbacks fire
// asynchronously from its read goroutine.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		conn.Close()
	}
}

// Shutdown closes every connection and waits until their disconnect
// callbacks have run or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	for _, c := range conns {
		select {
		case <-c.stopped:
		case <-ctx.Done():
			slog.WarnContext(ctx, "shutdown gave up waiting for connections", "error", ctx.Err())
			return
		}
	}
}
