package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hecticradio.app/live/internal/broadcast"
	"hecticradio.app/live/internal/http/dto"
	"hecticradio.app/live/internal/hub"
)

type PresenceReader interface {
	Presence() hub.PresenceUpdate
}

type PresenceHandler struct {
	presence PresenceReader
	counter  broadcast.Counter
}

func NewPresenceHandler(presence PresenceReader, counter broadcast.Counter) *PresenceHandler {
	return &PresenceHandler{presence: presence, counter: counter}
}

// Get reports this process's listeners.
func (h *PresenceHandler) Get(c *gin.Context) {
	p := h.presence.Presence()

	users := make([]dto.PresenceUserInfo, 0, len(p.OnlineUsers))
	for _, u := range p.OnlineUsers {
		users = append(users, dto.PresenceUserInfo{Username: u.Username, Page: u.Page})
	}

	c.JSON(http.StatusOK, dto.PresenceResponse{
		ListenerCount: p.ListenerCount,
		Peak:          max(h.counter.Peak(), p.ListenerCount),
		OnlineUsers:   users,
	})
}
