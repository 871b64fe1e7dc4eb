package musicsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/core/config"
	"hecticradio.app/live/internal/model"
)

const (
	SpotifyAPIBase  = "https://api.spotify.com/v1"
	SpotifyTokenURL = "https://accounts.spotify.com/api/token"

	spotifyEpisodeLimit = 20
)

type SpotifyWriter interface {
	ReplaceSpotify(ctx context.Context, playlists []model.SpotifyPlaylist, episodes []model.SpotifyEpisode) error
}

type SpotifyResult struct {
	PlaylistsSynced int `json:"playlistsSynced"`
	EpisodesSynced  int `json:"episodesSynced"`
}

// Spotify syncs the configured playlists and the latest show episodes.
type Spotify struct {
	cfg     config.SpotifyConfig
	content SpotifyWriter
	client  client
}

func NewSpotify(cfg config.SpotifyConfig, content SpotifyWriter, opts ...Option) *Spotify {
	return &Spotify{
		cfg:     cfg,
		content: content,
		client:  newClient(SpotifyAPIBase, SpotifyTokenURL, opts),
	}
}

func (s *Spotify) Sync(ctx context.Context) (SpotifyResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.musicsync.spotify"})

	if !s.cfg.Enabled() {
		return SpotifyResult{}, fmt.Errorf("%w: set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET", ErrMissingCredentials)
	}
	if len(s.cfg.PlaylistIDs) == 0 && s.cfg.ShowID == "" {
		return SpotifyResult{}, fmt.Errorf("%w: set SPOTIFY_PLAYLIST_IDS and/or SPOTIFY_SHOW_ID", ErrNothingToSync)
	}

	hc, err := s.authorize(ctx)
	if err != nil {
		return SpotifyResult{}, err
	}

	syncedAt := s.client.now()

	playlists := make([]model.SpotifyPlaylist, 0, len(s.cfg.PlaylistIDs))
	for _, playlistID := range s.cfg.PlaylistIDs {
		p, err := s.playlist(ctx, hc, playlistID, syncedAt)
		if err != nil {
			return SpotifyResult{}, err
		}
		playlists = append(playlists, p)
	}

	var episodes []model.SpotifyEpisode
	if s.cfg.ShowID != "" {
		episodes, err = s.episodes(ctx, hc, s.cfg.ShowID, syncedAt)
		if err != nil {
			return SpotifyResult{}, err
		}
	}

	if err := s.content.ReplaceSpotify(ctx, playlists, episodes); err != nil {
		return SpotifyResult{}, fmt.Errorf("storing spotify content: %w", err)
	}

	result := SpotifyResult{PlaylistsSynced: len(playlists), EpisodesSynced: len(episodes)}
	slog.InfoContext(ctx, "spotify content synced",
		"playlists", result.PlaylistsSynced,
		"episodes", result.EpisodesSynced)
	return result, nil
}

// authorize fetches a client-credentials token up front so an auth failure
// is reported as such rather than as a failed playlist request.
func (s *Spotify) authorize(ctx context.Context) (*http.Client, error) {
	cc := clientcredentials.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		TokenURL:     s.client.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client.http)
	ts := cc.TokenSource(ctx)
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("spotify auth failed: %w", err)
	}
	return oauth2.NewClient(ctx, ts), nil
}

type spotifyImage struct {
	URL string `json:"url"`
}

type spotifyExternalURLs struct {
	Spotify string `json:"spotify"`
}

type spotifyTotal struct {
	Total *int64 `json:"total"`
}

type spotifyPlaylist struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	ExternalURLs spotifyExternalURLs `json:"external_urls"`
	Images       []spotifyImage      `json:"images"`
	Followers    spotifyTotal        `json:"followers"`
	Tracks       spotifyTotal        `json:"tracks"`
}

func (s *Spotify) playlist(ctx context.Context, hc *http.Client, playlistID string, syncedAt time.Time) (model.SpotifyPlaylist, error) {
	var p spotifyPlaylist
	endpoint := s.client.apiBase + "/playlists/" + url.PathEscape(playlistID)
	if err := s.client.getJSON(ctx, hc, "spotify playlist fetch", endpoint, &p); err != nil {
		return model.SpotifyPlaylist{}, err
	}

	return model.SpotifyPlaylist{
		SpotifyID:    p.ID,
		Name:         p.Name,
		Description:  p.Description,
		URL:          p.ExternalURLs.Spotify,
		ImageURL:     firstImage(p.Images),
		Followers:    p.Followers.Total,
		TracksCount:  p.Tracks.Total,
		LastSyncedAt: syncedAt,
	}, nil
}

type spotifyEpisodes struct {
	Items []struct {
		ID              string              `json:"id"`
		Name            string              `json:"name"`
		Description     string              `json:"description"`
		ExternalURLs    spotifyExternalURLs `json:"external_urls"`
		AudioPreviewURL string              `json:"audio_preview_url"`
		Images          []spotifyImage      `json:"images"`
		DurationMs      *int64              `json:"duration_ms"`
		ReleaseDate     string              `json:"release_date"`
		PlayCount       *int64              `json:"play_count"`
	} `json:"items"`
}

func (s *Spotify) episodes(ctx context.Context, hc *http.Client, showID string, syncedAt time.Time) ([]model.SpotifyEpisode, error) {
	var resp spotifyEpisodes
	endpoint := fmt.Sprintf("%s/shows/%s/episodes?limit=%d", s.client.apiBase, url.PathEscape(showID), spotifyEpisodeLimit)
	if err := s.client.getJSON(ctx, hc, "spotify episodes fetch", endpoint, &resp); err != nil {
		return nil, err
	}

	episodes := make([]model.SpotifyEpisode, 0, len(resp.Items))
	for _, e := range resp.Items {
		episodes = append(episodes, model.SpotifyEpisode{
			SpotifyID:    e.ID,
			Title:        e.Name,
			Description:  e.Description,
			URL:          e.ExternalURLs.Spotify,
			AudioURL:     ptrIfSet(e.AudioPreviewURL),
			ImageURL:     firstImage(e.Images),
			DurationMs:   e.DurationMs,
			ReleaseDate:  releaseDate(e.ReleaseDate, syncedAt),
			Plays:        e.PlayCount,
			LastSyncedAt: syncedAt,
		})
	}
	return episodes, nil
}

func firstImage(images []spotifyImage) *string {
	if len(images) == 0 {
		return nil
	}
	return ptrIfSet(images[0].URL)
}

// releaseDate parses Spotify's day, month or year precision dates. Missing
// or unparseable dates fall back to the sync time.
func releaseDate(s string, fallback time.Time) time.Time {
	for _, layout := range []string{time.DateOnly, "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
