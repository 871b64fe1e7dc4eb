package presence

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/transport"
)

const (
	RoomListeners = "listeners"
	RoomAdmin     = "admin"

	DefaultUsername = "Anonymous Listener"

	maxUsernameLen = 50
)

func UserRoom(userID string) string {
	return "user:" + userID
}

// Session is the identity a connection registered with. It lives from
// user:join until disconnect and only in the memory of the process that
// holds the connection.
type Session struct {
	ConnID      string    `json:"connId"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Page        string    `json:"page,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	Rooms       []string  `json:"rooms"`
}

// Anonymous reports whether the session was given a generated user id.
func (s Session) Anonymous() bool {
	return strings.HasPrefix(s.UserID, "anon_")
}

// CountFunc observes the local listener count after every change.
type CountFunc func(ctx context.Context, count, peak int)

// Registry owns every Session on this process. Register and Unregister emit
// user:joined / user:left to the listeners room and then notify the count
// observers, which is how listeners:count goes out on join and leave.
type Registry struct {
	transport transport.Transport
	metrics   *metrics.Collector
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	peak     int
	onCount  []CountFunc
}

func NewRegistry(t transport.Transport, m *metrics.Collector) *Registry {
	return &Registry{
		transport: t,
		metrics:   m,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

func (r *Registry) OnCountChanged(fn CountFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCount = append(r.onCount, fn)
}

type joinedPayload struct {
	Username      string `json:"username"`
	ListenerCount int    `json:"listenerCount"`
}

// Register records the connection's identity. A second call for the same
// connection updates its username, page and user room (leaving the previous
// one) but does not change the count or announce the user again; it reports
// false.
func (r *Registry) Register(ctx context.Context, connID, userID, username, page string) (Session, bool) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.presence"})

	userID = strings.TrimSpace(userID)
	anonymous := userID == ""
	if anonymous {
		userID = "anon_" + connID
	}
	username = cleanUsername(username)

	r.mu.Lock()
	if existing, ok := r.sessions[connID]; ok {
		previousUser := existing.UserID
		if !anonymous {
			existing.UserID = userID
		}
		existing.Username = username
		if page != "" {
			existing.Page = page
		}
		switched := !anonymous && previousUser != userID
		leaveRoom := ""
		if switched {
			if !strings.HasPrefix(previousUser, "anon_") {
				leaveRoom = UserRoom(previousUser)
				existing.Rooms = slices.DeleteFunc(existing.Rooms, func(room string) bool { return room == leaveRoom })
			}
			existing.Rooms = append(existing.Rooms, UserRoom(userID))
		}
		snapshot := cloneSession(existing)
		r.mu.Unlock()

		if leaveRoom != "" {
			r.transport.Leave(connID, leaveRoom)
		}
		if switched {
			r.transport.Join(connID, UserRoom(userID))
		}
		return snapshot, false
	}

	s := &Session{
		ConnID:      connID,
		UserID:      userID,
		Username:    username,
		Page:        page,
		ConnectedAt: r.now(),
		Rooms:       []string{RoomListeners},
	}
	if !anonymous {
		s.Rooms = append(s.Rooms, UserRoom(userID))
	}
	r.sessions[connID] = s
	count := len(r.sessions)
	if count > r.peak {
		r.peak = count
	}
	peak := r.peak
	snapshot := cloneSession(s)
	r.mu.Unlock()

	for _, room := range snapshot.Rooms {
		r.transport.Join(connID, room)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: &snapshot.UserID})
	r.transport.EmitToRoom(ctx, RoomListeners, "user:joined", joinedPayload{
		Username:      snapshot.Username,
		ListenerCount: count,
	})
	r.countChanged(ctx, count, peak)

	slog.InfoContext(ctx, "listener joined", "username", snapshot.Username, "listener_count", count)
	return snapshot, true
}

// Unregister forgets the connection. Unknown ids are ignored, so a duplicate
// disconnect does not change the count.
func (r *Registry) Unregister(ctx context.Context, connID string) (Session, bool) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.presence"})

	r.mu.Lock()
	s, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	delete(r.sessions, connID)
	count := len(r.sessions)
	peak := r.peak
	snapshot := cloneSession(s)
	r.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: &snapshot.UserID})
	r.transport.EmitToRoom(ctx, RoomListeners, "user:left", joinedPayload{
		Username:      snapshot.Username,
		ListenerCount: count,
	})
	r.countChanged(ctx, count, peak)

	slog.InfoContext(ctx, "listener left", "username", snapshot.Username, "listener_count", count)
	return snapshot, true
}

// AdmitAdmin puts a connection in the admin room. It works whether or not
// the connection has registered as a listener.
func (r *Registry) AdmitAdmin(connID string) {
	r.mu.Lock()
	if s, ok := r.sessions[connID]; ok && !slices.Contains(s.Rooms, RoomAdmin) {
		s.Rooms = append(s.Rooms, RoomAdmin)
	}
	r.mu.Unlock()

	r.transport.Join(connID, RoomAdmin)
}

func (r *Registry) countChanged(ctx context.Context, count, peak int) {
	r.metrics.SetListeners(count, peak)

	r.mu.RLock()
	observers := slices.Clone(r.onCount)
	r.mu.RUnlock()

	for _, fn := range observers {
		fn(ctx, count, peak)
	}
}

func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return cloneSession(s), true
}

// Count is the number of sessions on this process.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Peak is the highest Count seen since the process started.
func (r *Registry) Peak() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peak
}

// Snapshot returns all sessions ordered by connect time.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, cloneSession(s))
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ConnID, b.ConnID)
	})
	return out
}

func cloneSession(s *Session) Session {
	c := *s
	c.Rooms = slices.Clone(s.Rooms)
	return c
}

func cleanUsername(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultUsername
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		name = string([]rune(name)[:maxUsernameLen])
	}
	return name
}
