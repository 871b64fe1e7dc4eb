package store

import (
	"context"

	"hecticradio.app/live/internal/model"
)

// ContentStore holds the content pulled by the sync jobs. Each Replace call
// swaps the table contents atomically: readers see the old rows or the new
// rows, never a mix.
type ContentStore interface {
	ReplaceSpotify(ctx context.Context, playlists []model.SpotifyPlaylist, episodes []model.SpotifyEpisode) error
	ReplaceYouTube(ctx context.Context, videos []model.YouTubeVideo) error
	Counts(ctx context.Context) (model.ContentCounts, error)
}
