package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"hecticradio.app/live/common/id"
	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/presence"
	"hecticradio.app/live/internal/transport"
)

const (
	MaxMessageLen = 500

	DefaultTypingWindow = 3 * time.Second

	TypeMessage = "message"
	TypeSystem  = "system"

	SystemUserID   = "system"
	SystemUsername = "Hectic Radio"
)

// Message is a chat line. It is broadcast and never stored.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// Sessions resolves a connection to its registered identity.
type Sessions interface {
	Get(connID string) (presence.Session, bool)
}

type typingEntry struct {
	timer  *time.Timer
	userID string
}

// Relay broadcasts chat messages and keeps at most one typing indicator per
// connection. Each indicator produces exactly one chat:stop-typing, whether it
// ends by stop event, by a message, or by expiry.
type Relay struct {
	transport transport.Transport
	sessions  Sessions
	window    time.Duration
	now       func() time.Time

	mu     sync.Mutex
	typing map[string]*typingEntry
	closed bool
}

func NewRelay(t transport.Transport, sessions Sessions, window time.Duration) *Relay {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Relay{
		transport: t,
		sessions:  sessions,
		window:    window,
		now:       time.Now,
		typing:    make(map[string]*typingEntry),
	}
}

type typingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// SendMessage broadcasts text from a registered connection to the listeners
// room. Unregistered connections and blank text are dropped.
func (r *Relay) SendMessage(ctx context.Context, connID, text string) (Message, bool) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.chat"})

	s, ok := r.sessions.Get(connID)
	if !ok {
		slog.DebugContext(ctx, "chat message from unregistered connection dropped")
		return Message{}, false
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, false
	}

	msg := Message{
		ID:        id.NewString("msg"),
		UserID:    s.UserID,
		Username:  s.Username,
		Message:   clamp(text, MaxMessageLen),
		Timestamp: r.now().UnixMilli(),
		Type:      TypeMessage,
	}

	if entry := r.take(connID); entry != nil {
		r.transport.EmitToRoom(ctx, presence.RoomListeners, "chat:stop-typing", typingPayload{UserID: entry.userID}, connID)
	}
	r.transport.EmitToRoom(ctx, presence.RoomListeners, "chat:message", msg)

	slog.DebugContext(ctx, "chat message relayed", "username", s.Username, "message", logger.Truncate(msg.Message, 80))
	return msg, true
}

// StartTyping (re)starts the connection's typing window and tells everyone
// else in the listeners room.
func (r *Relay) StartTyping(ctx context.Context, connID string) {
	s, ok := r.sessions.Get(connID)
	if !ok {
		return
	}

	entry := &typingEntry{userID: s.UserID}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if prev, ok := r.typing[connID]; ok {
		prev.timer.Stop()
	}
	entry.timer = time.AfterFunc(r.window, func() { r.expire(connID, entry) })
	r.typing[connID] = entry
	r.mu.Unlock()

	r.transport.EmitToRoom(ctx, presence.RoomListeners, "chat:typing", typingPayload{
		UserID:   s.UserID,
		Username: s.Username,
	}, connID)
}

// expire fires from the timer. It only acts if entry is still the current
// indicator, so a renewed or stopped indicator is not stopped twice.
func (r *Relay) expire(connID string, entry *typingEntry) {
	r.mu.Lock()
	if r.typing[connID] != entry {
		r.mu.Unlock()
		return
	}
	delete(r.typing, connID)
	r.mu.Unlock()

	ctx := logger.WithLogFields(context.Background(), logger.LogFields{
		Component: "live.chat",
		ConnID:    &connID,
	})
	r.transport.EmitToRoom(ctx, presence.RoomListeners, "chat:stop-typing", typingPayload{UserID: entry.userID}, connID)
}

// StopTyping clears the indicator and announces it. A registered connection
// always gets the announcement, even without an active indicator.
func (r *Relay) StopTyping(ctx context.Context, connID string) {
	s, ok := r.sessions.Get(connID)
	if !ok {
		return
	}
	r.take(connID)
	r.transport.EmitToRoom(ctx, presence.RoomListeners, "chat:stop-typing", typingPayload{UserID: s.UserID}, connID)
}

// Forget drops the connection's indicator without announcing it. Used on
// disconnect.
func (r *Relay) Forget(connID string) {
	r.take(connID)
}

func (r *Relay) take(connID string) *typingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.typing[connID]
	if !ok {
		return nil
	}
	entry.timer.Stop()
	delete(r.typing, connID)
	return entry
}

// Typing reports whether the connection has a live indicator.
func (r *Relay) Typing(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.typing[connID]
	return ok
}

// Close stops every timer. Later typing events are ignored.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID, entry := range r.typing {
		entry.timer.Stop()
		delete(r.typing, connID)
	}
	r.closed = true
}

// SystemMessage builds a message attributed to the station.
func SystemMessage(text string, now time.Time) Message {
	return Message{
		ID:        id.NewString("sys"),
		UserID:    SystemUserID,
		Username:  SystemUsername,
		Message:   text,
		Timestamp: now.UnixMilli(),
		Type:      TypeSystem,
	}
}

func clamp(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
