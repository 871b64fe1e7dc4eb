package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/internal/broadcast"
	"hecticradio.app/live/internal/chat"
	"hecticradio.app/live/internal/http/handler"
	"hecticradio.app/live/internal/http/middleware"
	"hecticradio.app/live/internal/http/router"
	"hecticradio.app/live/internal/hub"
	"hecticradio.app/live/internal/metrics"
	"hecticradio.app/live/internal/musicsync"
	"hecticradio.app/live/internal/presence"
	"hecticradio.app/live/internal/queue"
	"hecticradio.app/live/internal/store"
	"hecticradio.app/live/internal/transport"
)

var _ = Describe("SetupRoutes", func() {
	var (
		jobs   *queue.MemoryStore
		engine func(adminKey string) *gin.Engine
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		jobs = queue.NewMemoryStore()

		engine = func(adminKey string) *gin.Engine {
			m := metrics.NewCollector()
			sockets := transport.NewHub(transport.Config{}, m)
			registry := presence.NewRegistry(sockets, m)
			relay := chat.NewRelay(sockets, registry, 0)
			DeferCleanup(relay.Close)
			live := hub.New(sockets, registry, relay)
			b := broadcast.New()
			b.Bind(sockets, registry)

			r := gin.New()
			router.SetupRoutes(r, router.Handlers{
				Socket:    handler.NewSocketHandler(sockets, adminKey),
				Presence:  handler.NewPresenceHandler(live, registry),
				Broadcast: handler.NewBroadcastHandler(b),
				Jobs:      handler.NewJobsHandler(musicsync.NewProducer(jobs, m), jobs, store.NewMemory()),
				Metrics:   m.Handler(),
			}, router.RouterConfig{
				AdminAPIKey: adminKey,
				CORSOrigins: []string{"https://hecticradio.test"},
			})
			return r
		}
	})

	serve := func(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	It("serves health and metrics without a key", func() {
		r := engine("station-key")
		Expect(serve(r, httptest.NewRequest(http.MethodGet, "/health", nil)).Body.String()).To(MatchJSON(`{"status":"ok"}`))
		Expect(serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code).To(Equal(http.StatusOK))
	})

	It("serves presence publicly", func() {
		w := serve(engine("station-key"), httptest.NewRequest(http.MethodGet, "/api/v1/presence", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"listenerCount":0,"peak":0,"onlineUsers":[]}`))
	})

	Describe("admin routes", func() {
		enqueue := func(set func(*http.Request)) *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/music-sync", strings.NewReader(`{"target":"youtube"}`))
			req.Header.Set("Content-Type", "application/json")
			set(req)
			return req
		}

		It("rejects requests without the key", func() {
			w := serve(engine("station-key"), enqueue(func(*http.Request) {}))
			Expect(w.Code).To(Equal(http.StatusUnauthorized))

			stats, err := jobs.Stats(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Waiting).To(BeZero())
		})

		It("accepts the admin header", func() {
			w := serve(engine("station-key"), enqueue(func(r *http.Request) {
				r.Header.Set(middleware.AdminKeyHeader, "station-key")
			}))
			Expect(w.Code).To(Equal(http.StatusAccepted))

			stats, err := jobs.Stats(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Waiting).To(Equal(int64(1)))
		})

		It("accepts a bearer token", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/broadcast/system", strings.NewReader(`{"message":"hi"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer station-key")
			Expect(serve(engine("station-key"), req).Code).To(Equal(http.StatusAccepted))
		})

		It("is unavailable when no key is configured", func() {
			w := serve(engine(""), enqueue(func(r *http.Request) {
				r.Header.Set(middleware.AdminKeyHeader, "")
			}))
			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	It("answers CORS preflight for admin routes", func() {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/broadcast/now-playing", nil)
		req.Header.Set("Origin", "https://hecticradio.test")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		w := serve(engine("station-key"), req)
		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://hecticradio.test"))
		Expect(w.Header().Get("Access-Control-Allow-Headers")).To(ContainSubstring(middleware.AdminKeyHeader))
	})
})
