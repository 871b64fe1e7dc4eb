package musicsync

import (
	"context"
	"fmt"
	"log/slog"

	"hecticradio.app/live/internal/queue"
)

type SpotifySyncer interface {
	Sync(ctx context.Context) (SpotifyResult, error)
}

type YouTubeSyncer interface {
	Sync(ctx context.Context) (YouTubeResult, error)
}

// Result is what a music-sync job returns. A platform outside the target is
// left out.
type Result struct {
	Spotify *SpotifyResult `json:"spotify,omitempty"`
	YouTube *YouTubeResult `json:"youtube,omitempty"`
}

// Processor runs music-sync jobs. Platforms run one after the other and the
// first error fails the whole attempt, so a retry runs every selected
// platform again.
type Processor struct {
	spotify SpotifySyncer
	youtube YouTubeSyncer
}

func NewProcessor(spotify SpotifySyncer, youtube YouTubeSyncer) *Processor {
	return &Processor{spotify: spotify, youtube: youtube}
}

func (p *Processor) Process(ctx context.Context, job *queue.Job) (any, error) {
	var payload Payload
	if err := job.Decode(&payload); err != nil {
		return nil, err
	}
	target, err := ParseTarget(string(payload.Target))
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "music sync started", "target", target, "source", payload.Source)

	var result Result

	if target.includes(TargetSpotify) {
		res, err := p.spotify.Sync(ctx)
		if err != nil {
			return nil, fmt.Errorf("syncing spotify: %w", err)
		}
		result.Spotify = &res
	}

	if target.includes(TargetYouTube) {
		res, err := p.youtube.Sync(ctx)
		if err != nil {
			return nil, fmt.Errorf("syncing youtube: %w", err)
		}
		result.YouTube = &res
	}

	return result, nil
}
