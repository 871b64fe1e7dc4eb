package store

import (
	"context"
	"slices"
	"sync"

	"hecticradio.app/live/internal/model"
)

// Memory keeps the latest synced content in process. Used when no database
// is configured.
type Memory struct {
	mu        sync.RWMutex
	playlists []model.SpotifyPlaylist
	episodes  []model.SpotifyEpisode
	videos    []model.YouTubeVideo
}

var _ ContentStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ReplaceSpotify(_ context.Context, playlists []model.SpotifyPlaylist, episodes []model.SpotifyEpisode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists = slices.Clone(playlists)
	m.episodes = slices.Clone(episodes)
	return nil
}

func (m *Memory) ReplaceYouTube(_ context.Context, videos []model.YouTubeVideo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos = slices.Clone(videos)
	return nil
}

func (m *Memory) Counts(context.Context) (model.ContentCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.ContentCounts{
		SpotifyPlaylists: int64(len(m.playlists)),
		SpotifyEpisodes:  int64(len(m.episodes)),
		YouTubeVideos:    int64(len(m.videos)),
	}, nil
}

func (m *Memory) Playlists() []model.SpotifyPlaylist {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.playlists)
}

func (m *Memory) Episodes() []model.SpotifyEpisode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.episodes)
}

func (m *Memory) Videos() []model.YouTubeVideo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.videos)
}
