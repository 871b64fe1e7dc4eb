package musicsync_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/core/config"
	"hecticradio.app/live/internal/musicsync"
)

type fakeYouTube struct {
	searchBody  string
	videoStatus int
	videoCalls  atomic.Int32
}

func (f *fakeYouTube) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("key") != "yt-key" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/search":
		if q.Get("channelId") != "chan" || q.Get("order") != "date" || q.Get("type") != "video" || q.Get("maxResults") != "6" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(f.searchBody))
	case "/videos":
		f.videoCalls.Add(1)
		if f.videoStatus != 0 {
			w.WriteHeader(f.videoStatus)
			_, _ = w.Write([]byte(`quota exceeded`))
			return
		}
		if q.Get("id") != "v1,v2" || q.Get("part") != "snippet,statistics" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"items": [
			{"id": "v1", "snippet": {"title": "Live from the roof", "description": "set", "publishedAt": "2026-04-30T18:00:00Z",
			  "thumbnails": {"default": {"url": "https://i.ytimg.com/v1/default.jpg"}, "high": {"url": "https://i.ytimg.com/v1/hq.jpg"}}},
			 "statistics": {"viewCount": "1532", "likeCount": "87"}},
			{"id": "v2", "snippet": {"title": "Studio session", "publishedAt": ""}, "statistics": {}}
		]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

var _ = Describe("YouTube", func() {
	var (
		ctx     context.Context
		fake    *fakeYouTube
		srv     *httptest.Server
		content *recordingContent
		cfg     config.YouTubeConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeYouTube{searchBody: `{"items": [{"id": {"videoId": "v1"}}, {"id": {}}, {"id": {"videoId": "v2"}}]}`}
		srv = httptest.NewServer(fake)
		DeferCleanup(srv.Close)
		content = &recordingContent{}
		cfg = config.YouTubeConfig{APIKey: "yt-key", ChannelID: "chan"}
	})

	newYouTube := func() *musicsync.YouTube {
		return musicsync.NewYouTube(cfg, content,
			musicsync.WithHTTPClient(srv.Client()),
			musicsync.WithAPIBase(srv.URL),
			musicsync.WithClock(func() time.Time { return syncTime }),
		)
	}

	It("replaces videos with the channel's latest uploads", func() {
		res, err := newYouTube().Sync(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.VideosSynced).To(Equal(2))

		videos := content.videos[0]
		Expect(videos[0].URL).To(Equal("https://www.youtube.com/watch?v=v1"))
		Expect(*videos[0].ThumbnailURL).To(Equal("https://i.ytimg.com/v1/hq.jpg"))
		Expect(*videos[0].ViewCount).To(BeEquivalentTo(1532))
		Expect(*videos[0].LikeCount).To(BeEquivalentTo(87))
		Expect(videos[0].PublishedAt).To(Equal(time.Date(2026, 4, 30, 18, 0, 0, 0, time.UTC)))

		Expect(videos[1].ThumbnailURL).To(BeNil())
		Expect(videos[1].ViewCount).To(BeNil())
		Expect(videos[1].PublishedAt).To(Equal(syncTime))
	})

	It("clears the table when the channel has no videos", func() {
		fake.searchBody = `{"items": []}`
		res, err := newYouTube().Sync(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.VideosSynced).To(BeZero())
		Expect(fake.videoCalls.Load()).To(BeZero())
		Expect(content.videos).To(HaveLen(1))
		Expect(content.videos[0]).To(BeEmpty())
	})

	It("fails without credentials", func() {
		cfg.ChannelID = ""
		_, err := newYouTube().Sync(ctx)
		Expect(err).To(MatchError(musicsync.ErrMissingCredentials))
	})

	It("surfaces API errors with the response body", func() {
		fake.videoStatus = http.StatusForbidden
		_, err := newYouTube().Sync(ctx)
		Expect(err).To(MatchError(And(ContainSubstring("youtube videos fetch"), ContainSubstring("quota exceeded"))))
		Expect(content.YouTubeWrites()).To(BeZero())
	})
})
