package handler_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/internal/http/handler"
	"hecticradio.app/live/internal/hub"
)

var _ = Describe("PresenceHandler", func() {
	It("returns listeners with the peak", func() {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		presence := &mockPresence{update: hub.PresenceUpdate{
			ListenerCount: 2,
			OnlineUsers: []hub.OnlineUser{
				{Username: "ana", Page: "/live"},
				{Username: "Anonymous Listener"},
			},
		}}
		router.GET("/presence", handler.NewPresenceHandler(presence, fixedCounter{count: 2, peak: 14}).Get)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/presence", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{
			"listenerCount": 2,
			"peak": 14,
			"onlineUsers": [{"username": "ana", "page": "/live"}, {"username": "Anonymous Listener"}]
		}`))
	})
})
