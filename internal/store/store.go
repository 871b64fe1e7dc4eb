package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hecticradio.app/live/core/db"
	"hecticradio.app/live/internal/model"
)

//go:embed schema.sql
var schema string

// Postgres is the ContentStore backed by the site database.
type Postgres struct {
	db *db.DB
}

var _ ContentStore = (*Postgres)(nil)

func NewPostgres(database *db.DB) *Postgres {
	return &Postgres{db: database}
}

// Migrate creates the content tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Pool().Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating content tables: %w", err)
	}
	return nil
}

func (s *Postgres) ReplaceSpotify(ctx context.Context, playlists []model.SpotifyPlaylist, episodes []model.SpotifyEpisode) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := replace(ctx, tx, "spotify_playlists", playlistColumns, playlistRows(playlists)); err != nil {
			return err
		}
		return replace(ctx, tx, "spotify_episodes", episodeColumns, episodeRows(episodes))
	})
}

func (s *Postgres) ReplaceYouTube(ctx context.Context, videos []model.YouTubeVideo) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return replace(ctx, tx, "youtube_videos", videoColumns, videoRows(videos))
	})
}

func (s *Postgres) Counts(ctx context.Context) (model.ContentCounts, error) {
	var c model.ContentCounts
	err := s.db.Pool().QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM spotify_playlists),
			(SELECT count(*) FROM spotify_episodes),
			(SELECT count(*) FROM youtube_videos)`,
	).Scan(&c.SpotifyPlaylists, &c.SpotifyEpisodes, &c.YouTubeVideos)
	if err != nil {
		return model.ContentCounts{}, fmt.Errorf("counting content: %w", err)
	}
	return c, nil
}

func replace(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) error {
	if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copying into %s: %w", table, err)
	}
	return nil
}

var playlistColumns = []string{
	"spotify_id", "name", "description", "url", "image_url", "followers", "tracks_count", "last_synced_at",
}

func playlistRows(playlists []model.SpotifyPlaylist) [][]any {
	rows := make([][]any, 0, len(playlists))
	for _, p := range playlists {
		rows = append(rows, []any{
			p.SpotifyID, p.Name, p.Description, p.URL, p.ImageURL, p.Followers, p.TracksCount, p.LastSyncedAt,
		})
	}
	return rows
}

var episodeColumns = []string{
	"spotify_id", "title", "description", "url", "audio_url", "image_url", "duration_ms", "release_date", "plays", "last_synced_at",
}

func episodeRows(episodes []model.SpotifyEpisode) [][]any {
	rows := make([][]any, 0, len(episodes))
	for _, e := range episodes {
		rows = append(rows, []any{
			e.SpotifyID, e.Title, e.Description, e.URL, e.AudioURL, e.ImageURL, e.DurationMs, e.ReleaseDate, e.Plays, e.LastSyncedAt,
		})
	}
	return rows
}

var videoColumns = []string{
	"youtube_id", "title", "description", "url", "thumbnail_url", "published_at", "view_count", "like_count", "last_synced_at",
}

func videoRows(videos []model.YouTubeVideo) [][]any {
	rows := make([][]any, 0, len(videos))
	for _, v := range videos {
		rows = append(rows, []any{
			v.YouTubeID, v.Title, v.Description, v.URL, v.ThumbnailURL, v.PublishedAt, v.ViewCount, v.LikeCount, v.LastSyncedAt,
		})
	}
	return rows
}
