package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/chat"
	"hecticradio.app/live/internal/presence"
	"hecticradio.app/live/internal/transport"
)

const DefaultHeartbeat = 5 * time.Second

type NowPlaying struct {
	Title      string `json:"title" binding:"required"`
	Artist     string `json:"artist" binding:"required"`
	CoverImage string `json:"coverImage,omitempty"`
	StartedAt  int64  `json:"startedAt"`
}

type ListenerCount struct {
	Count int `json:"count"`
	Peak  int `json:"peak"`
}

// Counter is the part of the presence registry the broadcaster reads.
type Counter interface {
	Count() int
	Peak() int
}

// Broadcaster publishes site events to connected clients. Until Bind is
// called, and on a nil *Broadcaster, every method is a no-op, so callers
// never need to know whether the hub is running.
type Broadcaster struct {
	mu        sync.RWMutex
	transport transport.Transport
	counter   Counter
	now       func() time.Time
}

// Default is the process-wide broadcaster. Site code can call it before the
// hub starts; cmd/server binds it.
var Default = New()

func New() *Broadcaster {
	return &Broadcaster{now: time.Now}
}

func (b *Broadcaster) Bind(t transport.Transport, c Counter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transport = t
	b.counter = c
}

func (b *Broadcaster) bound() (transport.Transport, Counter, bool) {
	if b == nil {
		return nil, nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transport, b.counter, b.transport != nil
}

func (b *Broadcaster) NowPlaying(ctx context.Context, track NowPlaying) {
	t, _, ok := b.bound()
	if !ok {
		return
	}
	if track.StartedAt == 0 {
		track.StartedAt = b.now().UnixMilli()
	}
	t.EmitToRoom(ctx, presence.RoomListeners, "nowplaying:update", track)
	slog.InfoContext(ctx, "now playing broadcast", "artist", track.Artist, "title", track.Title)
}

// ListenerCount publishes this process's count and peak.
func (b *Broadcaster) ListenerCount(ctx context.Context) {
	_, c, ok := b.bound()
	if !ok || c == nil {
		return
	}
	b.PublishCount(ctx, c.Count(), c.Peak())
}

// PublishCount has the presence.CountFunc signature so it can be registered
// with Registry.OnCountChanged.
func (b *Broadcaster) PublishCount(ctx context.Context, count, peak int) {
	t, _, ok := b.bound()
	if !ok {
		return
	}
	t.EmitToRoom(ctx, presence.RoomListeners, "listeners:count", ListenerCount{
		Count: count,
		Peak:  max(count, peak),
	})
}

func (b *Broadcaster) NotifyUser(ctx context.Context, userID string, payload any) {
	t, _, ok := b.bound()
	if !ok || userID == "" {
		return
	}
	t.EmitToRoom(ctx, presence.UserRoom(userID), "notification", payload)
}

func (b *Broadcaster) SystemMessage(ctx context.Context, text string) {
	t, _, ok := b.bound()
	if !ok {
		return
	}
	t.EmitToRoom(ctx, presence.RoomListeners, "chat:message", chat.SystemMessage(text, b.now()))
}

func (b *Broadcaster) NotifyAdmins(ctx context.Context, payload any) {
	t, _, ok := b.bound()
	if !ok {
		return
	}
	t.EmitToRoom(ctx, presence.RoomAdmin, "admin:notification", payload)
}

// Broadcast sends a custom event to every listener.
func (b *Broadcaster) Broadcast(ctx context.Context, event string, payload any) {
	b.ToRoom(ctx, presence.RoomListeners, event, payload)
}

func (b *Broadcaster) ToRoom(ctx context.Context, room, event string, payload any) {
	t, _, ok := b.bound()
	if !ok {
		return
	}
	t.EmitToRoom(ctx, room, event, payload)
}

// RunHeartbeat republishes the listener count every interval until ctx is
// done.
func (b *Broadcaster) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.broadcast.heartbeat"})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "listener count heartbeat started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.ListenerCount(ctx)
		}
	}
}
