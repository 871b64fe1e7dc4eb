package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/chat"
	"hecticradio.app/live/internal/presence"
	"hecticradio.app/live/internal/transport"
)

type handlerFunc func(ctx context.Context, connID string, data json.RawMessage)

// Hub wires inbound socket events to presence and chat. It holds no state of
// its own.
type Hub struct {
	transport transport.Transport
	registry  *presence.Registry
	relay     *chat.Relay
	now       func() time.Time
	handlers  map[string]handlerFunc
}

func New(t transport.Transport, registry *presence.Registry, relay *chat.Relay) *Hub {
	h := &Hub{
		transport: t,
		registry:  registry,
		relay:     relay,
		now:       time.Now,
	}
	h.handlers = map[string]handlerFunc{
		"user:join":         h.join,
		"chat:message":      h.chatMessage,
		"chat:typing":       h.typing,
		"chat:stop-typing":  h.stopTyping,
		"track:vote":        h.trackVote,
		"track:new-request": h.trackRequest,
		"shout:new":         h.shout,
		"presence:request":  h.presenceRequest,
	}
	return h
}

// Bind registers every handler and the connection lifecycle callbacks on a
// transport hub.
func (h *Hub) Bind(t *transport.Hub) {
	for event, fn := range h.handlers {
		t.On(event, func(ctx context.Context, c *transport.Conn, data json.RawMessage) {
			fn(ctx, c.ID, data)
		})
	}
	t.OnConnect(func(ctx context.Context, c *transport.Conn) {
		h.Connected(ctx, c.ID, c.Admin)
	})
	t.OnDisconnect(func(ctx context.Context, c *transport.Conn) {
		h.Disconnected(ctx, c.ID)
	})
}

// Dispatch runs the handler for event. Unknown events are ignored.
func (h *Hub) Dispatch(ctx context.Context, connID, event string, data json.RawMessage) {
	fn, ok := h.handlers[event]
	if !ok {
		return
	}
	fn(ctx, connID, data)
}

func (h *Hub) Connected(ctx context.Context, connID string, admin bool) {
	if admin {
		h.registry.AdmitAdmin(connID)
		slog.InfoContext(ctx, "admin connection admitted")
	}
}

func (h *Hub) Disconnected(ctx context.Context, connID string) {
	h.relay.Forget(connID)
	h.registry.Unregister(ctx, connID)
}

func decode(ctx context.Context, data json.RawMessage, v any) bool {
	if len(data) == 0 || string(data) == "null" {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.WarnContext(ctx, "dropping event with malformed payload", "error", err)
		return false
	}
	return true
}

type joinRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Page     string `json:"page"`
}

func (h *Hub) join(ctx context.Context, connID string, data json.RawMessage) {
	var req joinRequest
	if !decode(ctx, data, &req) {
		return
	}
	h.registry.Register(ctx, connID, req.UserID, req.Username, req.Page)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Hub) chatMessage(ctx context.Context, connID string, data json.RawMessage) {
	var req chatRequest
	if !decode(ctx, data, &req) {
		return
	}
	h.relay.SendMessage(ctx, connID, req.Message)
}

func (h *Hub) typing(ctx context.Context, connID string, _ json.RawMessage) {
	h.relay.StartTyping(ctx, connID)
}

func (h *Hub) stopTyping(ctx context.Context, connID string, _ json.RawMessage) {
	h.relay.StopTyping(ctx, connID)
}

type voteUpdate struct {
	RequestID json.RawMessage `json:"requestId"`
	VoterID   string          `json:"voterId"`
}

func (h *Hub) trackVote(ctx context.Context, connID string, data json.RawMessage) {
	var req struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if !decode(ctx, data, &req) || len(req.RequestID) == 0 {
		return
	}
	h.transport.EmitToRoom(ctx, presence.RoomListeners, "track:vote-update", voteUpdate{
		RequestID: req.RequestID,
		VoterID:   connID,
	})
}

// trackRequest rebroadcasts the client's fields untouched plus a timestamp.
func (h *Hub) trackRequest(ctx context.Context, _ string, data json.RawMessage) {
	fields := map[string]any{}
	if !decode(ctx, data, &fields) {
		return
	}
	fields["timestamp"] = h.now().UnixMilli()
	h.transport.EmitToRoom(ctx, presence.RoomListeners, "track:new-request", fields)
}

func (h *Hub) shout(ctx context.Context, connID string, data json.RawMessage) {
	fields := map[string]any{}
	if !decode(ctx, data, &fields) {
		return
	}
	fields["timestamp"] = h.now().UnixMilli()
	fields["from"] = connID
	h.transport.EmitToRoom(ctx, presence.RoomAdmin, "shout:new", fields)

	slog.InfoContext(logger.WithLogFields(ctx, logger.LogFields{Component: "live.hub"}), "shout relayed to admins")
}

type OnlineUser struct {
	Username string `json:"username"`
	Page     string `json:"page,omitempty"`
}

type PresenceUpdate struct {
	ListenerCount int          `json:"listenerCount"`
	OnlineUsers   []OnlineUser `json:"onlineUsers"`
}

func (h *Hub) presenceRequest(ctx context.Context, connID string, _ json.RawMessage) {
	h.transport.EmitToConn(ctx, connID, "presence:update", h.Presence())
}

// Presence is the presence:update payload for this process.
func (h *Hub) Presence() PresenceUpdate {
	sessions := h.registry.Snapshot()
	users := make([]OnlineUser, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, OnlineUser{Username: s.Username, Page: s.Page})
	}
	return PresenceUpdate{ListenerCount: len(sessions), OnlineUsers: users}
}
