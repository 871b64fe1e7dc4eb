package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"hecticradio.app/live/internal/broadcast"
	"hecticradio.app/live/internal/http/dto"
	"hecticradio.app/live/internal/presence"
)

// Publisher is satisfied by *broadcast.Broadcaster.
type Publisher interface {
	NowPlaying(ctx context.Context, track broadcast.NowPlaying)
	SystemMessage(ctx context.Context, text string)
	NotifyUser(ctx context.Context, userID string, payload any)
	NotifyAdmins(ctx context.Context, payload any)
	ToRoom(ctx context.Context, room, event string, payload any)
}

type BroadcastHandler struct {
	publisher Publisher
}

func NewBroadcastHandler(publisher Publisher) *BroadcastHandler {
	return &BroadcastHandler{publisher: publisher}
}

func (h *BroadcastHandler) NowPlaying(c *gin.Context) {
	var req dto.NowPlayingRequest
	if !bindJSON(c, &req) {
		return
	}

	h.publisher.NowPlaying(c.Request.Context(), broadcast.NowPlaying{
		Title:      req.Title,
		Artist:     req.Artist,
		CoverImage: req.CoverImage,
		StartedAt:  req.StartedAt,
	})
	c.JSON(http.StatusAccepted, dto.PublishedResponse{Event: "nowplaying:update", Room: presence.RoomListeners})
}

func (h *BroadcastHandler) SystemMessage(c *gin.Context) {
	var req dto.SystemMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	h.publisher.SystemMessage(c.Request.Context(), req.Message)
	c.JSON(http.StatusAccepted, dto.PublishedResponse{Event: "chat:message", Room: presence.RoomListeners})
}

func (h *BroadcastHandler) NotifyUser(c *gin.Context) {
	userID := c.Param("userID")
	var payload map[string]any
	if !bindJSON(c, &payload) {
		return
	}

	h.publisher.NotifyUser(c.Request.Context(), userID, payload)
	c.JSON(http.StatusAccepted, dto.PublishedResponse{Event: "notification", Room: presence.UserRoom(userID)})
}

func (h *BroadcastHandler) NotifyAdmins(c *gin.Context) {
	var payload map[string]any
	if !bindJSON(c, &payload) {
		return
	}

	h.publisher.NotifyAdmins(c.Request.Context(), payload)
	c.JSON(http.StatusAccepted, dto.PublishedResponse{Event: "admin:notification", Room: presence.RoomAdmin})
}

func (h *BroadcastHandler) Event(c *gin.Context) {
	var req dto.EventRequest
	if !bindJSON(c, &req) {
		return
	}

	room := req.Room
	if room == "" {
		room = presence.RoomListeners
	}
	var data any = req.Data
	if len(req.Data) == 0 {
		data = json.RawMessage("null")
	}

	h.publisher.ToRoom(c.Request.Context(), room, req.Event, data)
	c.JSON(http.StatusAccepted, dto.PublishedResponse{Event: req.Event, Room: room})
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		slog.WarnContext(c.Request.Context(), "invalid request body", "error", err, "path", c.FullPath())
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
