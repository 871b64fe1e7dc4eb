package musicsync_test

import (
	"context"
	"sync"

	"hecticradio.app/live/internal/model"
	"hecticradio.app/live/internal/musicsync"
)

type recordingContent struct {
	mu        sync.Mutex
	playlists [][]model.SpotifyPlaylist
	episodes  [][]model.SpotifyEpisode
	videos    [][]model.YouTubeVideo
	err       error
}

func (c *recordingContent) ReplaceSpotify(_ context.Context, playlists []model.SpotifyPlaylist, episodes []model.SpotifyEpisode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.playlists = append(c.playlists, playlists)
	c.episodes = append(c.episodes, episodes)
	return nil
}

func (c *recordingContent) ReplaceYouTube(_ context.Context, videos []model.YouTubeVideo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.videos = append(c.videos, videos)
	return nil
}

func (c *recordingContent) SpotifyWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.playlists)
}

func (c *recordingContent) YouTubeWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.videos)
}

type mockSpotify struct {
	syncFn func(ctx context.Context) (musicsync.SpotifyResult, error)
	calls  int
}

func (m *mockSpotify) Sync(ctx context.Context) (musicsync.SpotifyResult, error) {
	m.calls++
	if m.syncFn != nil {
		return m.syncFn(ctx)
	}
	return musicsync.SpotifyResult{}, nil
}

type mockYouTube struct {
	syncFn func(ctx context.Context) (musicsync.YouTubeResult, error)
	calls  int
}

func (m *mockYouTube) Sync(ctx context.Context) (musicsync.YouTubeResult, error) {
	m.calls++
	if m.syncFn != nil {
		return m.syncFn(ctx)
	}
	return musicsync.YouTubeResult{}, nil
}
