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

var syncTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSpotify struct {
	tokenStatus    int
	playlistStatus int
	requests       atomic.Int32
}

func (f *fakeSpotify) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/token" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" || f.tokenStatus != 0 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
		return
	}

	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/v1/playlists/p1":
		if f.playlistStatus != 0 {
			w.WriteHeader(f.playlistStatus)
			_, _ = w.Write([]byte(`{"error":{"status":404,"message":"Not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "p1",
			"name": "Hectic Heat",
			"description": "Weekly rotation",
			"external_urls": {"spotify": "https://open.spotify.com/playlist/p1"},
			"images": [{"url": "https://i.scdn.co/p1.jpg"}],
			"followers": {"total": 1200},
			"tracks": {"total": 48}
		}`))
	case "/v1/shows/s1/episodes":
		if r.URL.Query().Get("limit") != "20" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"items": [
			{"id": "e1", "name": "Late Show #12", "description": "", "external_urls": {"spotify": "https://open.spotify.com/episode/e1"},
			 "audio_preview_url": "https://p.scdn.co/e1.mp3", "images": [], "duration_ms": 3600000, "release_date": "2026-04-20"},
			{"id": "e2", "name": "Late Show #11", "release_date": "2026"}
		]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

var _ = Describe("Spotify", func() {
	var (
		ctx     context.Context
		fake    *fakeSpotify
		srv     *httptest.Server
		content *recordingContent
		cfg     config.SpotifyConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeSpotify{}
		srv = httptest.NewServer(fake)
		DeferCleanup(srv.Close)
		content = &recordingContent{}
		cfg = config.SpotifyConfig{
			ClientID:     "client",
			ClientSecret: "secret",
			PlaylistIDs:  []string{"p1"},
			ShowID:       "s1",
		}
	})

	newSpotify := func() *musicsync.Spotify {
		return musicsync.NewSpotify(cfg, content,
			musicsync.WithHTTPClient(srv.Client()),
			musicsync.WithAPIBase(srv.URL+"/v1"),
			musicsync.WithTokenURL(srv.URL+"/token"),
			musicsync.WithClock(func() time.Time { return syncTime }),
		)
	}

	It("replaces playlists and episodes with what the API returned", func() {
		res, err := newSpotify().Sync(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(musicsync.SpotifyResult{PlaylistsSynced: 1, EpisodesSynced: 2}))

		Expect(content.SpotifyWrites()).To(Equal(1))
		p := content.playlists[0][0]
		Expect(p.Name).To(Equal("Hectic Heat"))
		Expect(*p.ImageURL).To(Equal("https://i.scdn.co/p1.jpg"))
		Expect(*p.Followers).To(BeEquivalentTo(1200))
		Expect(*p.TracksCount).To(BeEquivalentTo(48))
		Expect(p.LastSyncedAt).To(Equal(syncTime))

		e := content.episodes[0]
		Expect(e[0].URL).To(Equal("https://open.spotify.com/episode/e1"))
		Expect(*e[0].AudioURL).To(Equal("https://p.scdn.co/e1.mp3"))
		Expect(e[0].ImageURL).To(BeNil())
		Expect(e[0].ReleaseDate).To(Equal(time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)))
		Expect(e[1].ReleaseDate.Year()).To(Equal(2026))
		Expect(e[1].DurationMs).To(BeNil())
	})

	It("syncs only episodes when no playlists are configured", func() {
		cfg.PlaylistIDs = nil
		res, err := newSpotify().Sync(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.PlaylistsSynced).To(BeZero())
		Expect(res.EpisodesSynced).To(Equal(2))
	})

	It("fails without credentials before calling out", func() {
		cfg.ClientSecret = ""
		_, err := newSpotify().Sync(ctx)
		Expect(err).To(MatchError(musicsync.ErrMissingCredentials))
		Expect(fake.requests.Load()).To(BeZero())
	})

	It("fails when there is nothing to sync", func() {
		cfg.PlaylistIDs = nil
		cfg.ShowID = ""
		_, err := newSpotify().Sync(ctx)
		Expect(err).To(MatchError(musicsync.ErrNothingToSync))
	})

	It("reports auth failures and keeps the old content", func() {
		fake.tokenStatus = http.StatusUnauthorized
		_, err := newSpotify().Sync(ctx)
		Expect(err).To(MatchError(ContainSubstring("spotify auth failed")))
		Expect(content.SpotifyWrites()).To(BeZero())
	})

	It("fails the whole sync when one playlist cannot be fetched", func() {
		fake.playlistStatus = http.StatusNotFound
		_, err := newSpotify().Sync(ctx)
		Expect(err).To(MatchError(And(ContainSubstring("spotify playlist fetch"), ContainSubstring("404"))))
		Expect(content.SpotifyWrites()).To(BeZero())
	})
})
