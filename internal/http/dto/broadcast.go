package dto

import "encoding/json"

type NowPlayingRequest struct {
	Title      string `json:"title" binding:"required"`
	Artist     string `json:"artist" binding:"required"`
	CoverImage string `json:"coverImage"`
	StartedAt  int64  `json:"startedAt"`
}

type SystemMessageRequest struct {
	Message string `json:"message" binding:"required,max=500"`
}

// EventRequest publishes a custom event. Without a room it goes to every
// listener.
type EventRequest struct {
	Event string          `json:"event" binding:"required"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
}

type PublishedResponse struct {
	Event string `json:"event"`
	Room  string `json:"room"`
}

type PresenceResponse struct {
	ListenerCount int                `json:"listenerCount"`
	Peak          int                `json:"peak"`
	OnlineUsers   []PresenceUserInfo `json:"onlineUsers"`
}

type PresenceUserInfo struct {
	Username string `json:"username"`
	Page     string `json:"page,omitempty"`
}
