package model

import "time"

// Synced content mirrors what the platforms returned on the last successful
// sync. Each sync replaces the whole table.

type SpotifyPlaylist struct {
	SpotifyID    string    `json:"spotify_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	ImageURL     *string   `json:"image_url,omitempty"`
	Followers    *int64    `json:"followers,omitempty"`
	TracksCount  *int64    `json:"tracks_count,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

type SpotifyEpisode struct {
	SpotifyID    string    `json:"spotify_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	AudioURL     *string   `json:"audio_url,omitempty"`
	ImageURL     *string   `json:"image_url,omitempty"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	ReleaseDate  time.Time `json:"release_date"`
	Plays        *int64    `json:"plays,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

type YouTubeVideo struct {
	YouTubeID    string    `json:"youtube_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	ThumbnailURL *string   `json:"thumbnail_url,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	ViewCount    *int64    `json:"view_count,omitempty"`
	LikeCount    *int64    `json:"like_count,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// ContentCounts is how many rows each content table holds.
type ContentCounts struct {
	SpotifyPlaylists int64 `json:"spotify_playlists"`
	SpotifyEpisodes  int64 `json:"spotify_episodes"`
	YouTubeVideos    int64 `json:"youtube_videos"`
}
