package musicsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/core/config"
	"hecticradio.app/live/internal/model"
)

const (
	YouTubeAPIBase = "https://www.googleapis.com/youtube/v3"

	youtubeMaxResults = 6
)

type YouTubeWriter interface {
	ReplaceYouTube(ctx context.Context, videos []model.YouTubeVideo) error
}

type YouTubeResult struct {
	VideosSynced int `json:"videosSynced"`
}

// YouTube syncs the channel's latest uploads.
type YouTube struct {
	cfg     config.YouTubeConfig
	content YouTubeWriter
	client  client
}

func NewYouTube(cfg config.YouTubeConfig, content YouTubeWriter, opts ...Option) *YouTube {
	return &YouTube{
		cfg:     cfg,
		content: content,
		client:  newClient(YouTubeAPIBase, "", opts),
	}
}

func (y *YouTube) Sync(ctx context.Context) (YouTubeResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "live.musicsync.youtube"})

	if !y.cfg.Enabled() {
		return YouTubeResult{}, fmt.Errorf("%w: set YOUTUBE_API_KEY and YOUTUBE_CHANNEL_ID", ErrMissingCredentials)
	}

	videos, err := y.latestVideos(ctx)
	if err != nil {
		return YouTubeResult{}, err
	}

	if err := y.content.ReplaceYouTube(ctx, videos); err != nil {
		return YouTubeResult{}, fmt.Errorf("storing youtube content: %w", err)
	}

	slog.InfoContext(ctx, "youtube content synced", "videos", len(videos))
	return YouTubeResult{VideosSynced: len(videos)}, nil
}

type youtubeSearch struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type youtubeThumbnail struct {
	URL string `json:"url"`
}

type youtubeVideos struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string                      `json:"title"`
			Description string                      `json:"description"`
			PublishedAt string                      `json:"publishedAt"`
			Thumbnails  map[string]youtubeThumbnail `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
			LikeCount string `json:"likeCount"`
		} `json:"statistics"`
	} `json:"items"`
}

func (y *YouTube) latestVideos(ctx context.Context) ([]model.YouTubeVideo, error) {
	search := url.Values{
		"key":        {y.cfg.APIKey},
		"channelId":  {y.cfg.ChannelID},
		"part":       {"snippet"},
		"order":      {"date"},
		"type":       {"video"},
		"maxResults": {strconv.Itoa(youtubeMaxResults)},
	}
	var found youtubeSearch
	if err := y.client.getJSON(ctx, y.client.http, "youtube search", y.client.apiBase+"/search?"+search.Encode(), &found); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(found.Items))
	for _, item := range found.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return []model.YouTubeVideo{}, nil
	}

	details := url.Values{
		"key":        {y.cfg.APIKey},
		"id":         {strings.Join(ids, ",")},
		"part":       {"snippet,statistics"},
		"maxResults": {strconv.Itoa(youtubeMaxResults)},
	}
	var resp youtubeVideos
	if err := y.client.getJSON(ctx, y.client.http, "youtube videos fetch", y.client.apiBase+"/videos?"+details.Encode(), &resp); err != nil {
		return nil, err
	}

	syncedAt := y.client.now()
	videos := make([]model.YouTubeVideo, 0, len(resp.Items))
	for _, v := range resp.Items {
		published, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt)
		if err != nil {
			published = syncedAt
		}
		videos = append(videos, model.YouTubeVideo{
			YouTubeID:    v.ID,
			Title:        v.Snippet.Title,
			Description:  v.Snippet.Description,
			URL:          "https://www.youtube.com/watch?v=" + v.ID,
			ThumbnailURL: thumbnail(v.Snippet.Thumbnails),
			PublishedAt:  published,
			ViewCount:    parseCount(v.Statistics.ViewCount),
			LikeCount:    parseCount(v.Statistics.LikeCount),
			LastSyncedAt: syncedAt,
		})
	}
	return videos, nil
}

func thumbnail(thumbs map[string]youtubeThumbnail) *string {
	for _, size := range []string{"high", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return ptrIfSet(t.URL)
		}
	}
	return nil
}

func parseCount(s string) *int64 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
