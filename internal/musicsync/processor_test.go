package musicsync_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/core/config"
	"hecticradio.app/live/internal/musicsync"
	"hecticradio.app/live/internal/queue"
	"hecticradio.app/live/internal/worker"
)

var _ = Describe("Processor", func() {
	var (
		ctx     context.Context
		spotify *mockSpotify
		youtube *mockYouTube
		p       *musicsync.Processor
	)

	BeforeEach(func() {
		ctx = context.Background()
		spotify = &mockSpotify{syncFn: func(context.Context) (musicsync.SpotifyResult, error) {
			return musicsync.SpotifyResult{PlaylistsSynced: 2, EpisodesSynced: 20}, nil
		}}
		youtube = &mockYouTube{syncFn: func(context.Context) (musicsync.YouTubeResult, error) {
			return musicsync.YouTubeResult{VideosSynced: 6}, nil
		}}
		p = musicsync.NewProcessor(spotify, youtube)
	})

	job := func(payload string) *queue.Job {
		return &queue.Job{ID: "job_1", Name: musicsync.TaskName, Payload: []byte(payload)}
	}

	DescribeTable("runs the platforms the target selects",
		func(payload string, spotifyCalls, youtubeCalls int) {
			_, err := p.Process(ctx, job(payload))
			Expect(err).NotTo(HaveOccurred())
			Expect(spotify.calls).To(Equal(spotifyCalls))
			Expect(youtube.calls).To(Equal(youtubeCalls))
		},
		Entry("spotify", `{"target":"spotify"}`, 1, 0),
		Entry("youtube", `{"target":"youtube"}`, 0, 1),
		Entry("all", `{"target":"all","source":"cron"}`, 1, 1),
		Entry("missing target", `{}`, 1, 1),
	)

	It("returns each platform's counts", func() {
		res, err := p.Process(ctx, job(`{"target":"all"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(musicsync.Result{
			Spotify: &musicsync.SpotifyResult{PlaylistsSynced: 2, EpisodesSynced: 20},
			YouTube: &musicsync.YouTubeResult{VideosSynced: 6},
		}))
	})

	It("rejects unknown targets", func() {
		_, err := p.Process(ctx, job(`{"target":"soundcloud"}`))
		Expect(err).To(MatchError(musicsync.ErrUnknownTarget))
		Expect(spotify.calls + youtube.calls).To(BeZero())
	})

	It("stops at the first platform error", func() {
		spotify.syncFn = func(context.Context) (musicsync.SpotifyResult, error) {
			return musicsync.SpotifyResult{}, errors.New("rate limited")
		}
		_, err := p.Process(ctx, job(`{"target":"all"}`))
		Expect(err).To(MatchError(ContainSubstring("syncing spotify: rate limited")))
		Expect(youtube.calls).To(BeZero())
	})

	It("fails the job when Spotify is down and never records YouTube as synced", func() {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		DeferCleanup(down.Close)
		ytServer := httptest.NewServer(&fakeYouTube{searchBody: `{"items": []}`})
		DeferCleanup(ytServer.Close)

		content := &recordingContent{}
		realSpotify := musicsync.NewSpotify(
			config.SpotifyConfig{ClientID: "client", ClientSecret: "secret", ShowID: "s1"},
			content,
			musicsync.WithHTTPClient(down.Client()),
			musicsync.WithAPIBase(down.URL),
			musicsync.WithTokenURL(down.URL+"/token"),
		)
		realYouTube := musicsync.NewYouTube(
			config.YouTubeConfig{APIKey: "yt-key", ChannelID: "chan"},
			content,
			musicsync.WithHTTPClient(ytServer.Client()),
			musicsync.WithAPIBase(ytServer.URL),
		)

		store := queue.NewMemoryStore()
		w := worker.New(store, worker.Config{}, nil)
		w.Register(musicsync.TaskName, musicsync.NewProcessor(realSpotify, realYouTube))

		queued, err := store.Enqueue(ctx, musicsync.TaskName, musicsync.Payload{Target: musicsync.TargetAll}, queue.Options{
			Policy: queue.RetryPolicy{MaxAttempts: 1},
		})
		Expect(err).NotTo(HaveOccurred())

		claimed, err := store.Claim(ctx, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		w.Execute(ctx, claimed)

		got, err := store.Get(ctx, queued.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(queue.StateFailed))
		Expect(got.LastError).To(ContainSubstring("syncing spotify"))
		Expect(got.Result).To(BeEmpty())
		Expect(content.SpotifyWrites()).To(BeZero())
		Expect(content.YouTubeWrites()).To(BeZero())
	})
})

var _ = Describe("Producer", func() {
	It("enqueues a manual sync with the default retry policy", func() {
		ctx := context.Background()
		store := queue.NewMemoryStore()
		producer := musicsync.NewProducer(store, nil)

		job, err := producer.Enqueue(ctx, musicsync.TargetYouTube)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Name).To(Equal("music-sync"))
		Expect(job.Policy).To(Equal(queue.DefaultRetryPolicy()))
		Expect(job.RemoveOnComplete).To(BeTrue())

		var payload musicsync.Payload
		Expect(job.Decode(&payload)).To(Succeed())
		Expect(payload.Target).To(Equal(musicsync.TargetYouTube))
		Expect(payload.Source).To(Equal("manual"))
		Expect(payload.EnqueuedAt).NotTo(BeEmpty())
	})
})

var _ = DescribeTable("ParseTarget",
	func(in string, want musicsync.Target, ok bool) {
		got, err := musicsync.ParseTarget(in)
		if !ok {
			Expect(err).To(MatchError(musicsync.ErrUnknownTarget))
			return
		}
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(want))
	},
	Entry("empty", "", musicsync.TargetAll, true),
	Entry("mixed case", "YouTube", musicsync.TargetYouTube, true),
	Entry("spotify", "spotify", musicsync.TargetSpotify, true),
	Entry("unknown", "tidal", musicsync.Target(""), false),
)
