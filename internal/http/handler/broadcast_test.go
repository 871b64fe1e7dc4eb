package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/internal/broadcast"
	"hecticradio.app/live/internal/http/handler"
)

var _ = Describe("BroadcastHandler", func() {
	var (
		router    *gin.Engine
		publisher *mockPublisher
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		publisher = &mockPublisher{}
		h := handler.NewBroadcastHandler(publisher)

		router.POST("/broadcast/now-playing", h.NowPlaying)
		router.POST("/broadcast/system", h.SystemMessage)
		router.POST("/broadcast/events", h.Event)
		router.POST("/notify/users/:userID", h.NotifyUser)
		router.POST("/notify/admins", h.NotifyAdmins)
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("NowPlaying", func() {
		It("publishes the track", func() {
			w := post("/broadcast/now-playing", `{"title":"Pacific State","artist":"808 State","coverImage":"https://img/1.jpg"}`)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(w.Body.String()).To(MatchJSON(`{"event":"nowplaying:update","room":"listeners"}`))
			Expect(publisher.calls).To(HaveLen(1))
			Expect(publisher.calls[0].Payload).To(Equal(broadcast.NowPlaying{
				Title:      "Pacific State",
				Artist:     "808 State",
				CoverImage: "https://img/1.jpg",
			}))
		})

		It("returns 400 without an artist", func() {
			w := post("/broadcast/now-playing", `{"title":"Pacific State"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(publisher.calls).To(BeEmpty())
		})
	})

	Describe("SystemMessage", func() {
		It("publishes the text", func() {
			w := post("/broadcast/system", `{"message":"Back after the news"}`)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(publisher.calls[0]).To(Equal(published{Method: "SystemMessage", Payload: "Back after the news"}))
		})

		It("rejects messages over 500 characters", func() {
			body, _ := json.Marshal(map[string]string{"message": strings.Repeat("a", 501)})
			w := post("/broadcast/system", string(body))
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	It("notifies a single user's room", func() {
		w := post("/notify/users/u42", `{"title":"Your request is up next"}`)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(w.Body.String()).To(MatchJSON(`{"event":"notification","room":"user:u42"}`))
		Expect(publisher.calls[0].Target).To(Equal("u42"))
		Expect(publisher.calls[0].Payload).To(HaveKeyWithValue("title", "Your request is up next"))
	})

	It("notifies admins", func() {
		w := post("/notify/admins", `{"title":"New shout"}`)
		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(publisher.calls[0].Method).To(Equal("NotifyAdmins"))
	})

	It("returns 400 for a notification that is not an object", func() {
		w := post("/notify/admins", `"just text"`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	Describe("Event", func() {
		It("defaults to the listeners room", func() {
			w := post("/broadcast/events", `{"event":"schedule:update","data":{"shows":3}}`)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			call := publisher.calls[0]
			Expect(call.Target).To(Equal("listeners"))
			Expect(call.Event).To(Equal("schedule:update"))
			Expect(call.Payload).To(BeEquivalentTo(json.RawMessage(`{"shows":3}`)))
		})

		It("targets an explicit room", func() {
			w := post("/broadcast/events", `{"event":"ping","room":"admin"}`)
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(publisher.calls[0].Target).To(Equal("admin"))
		})

		It("requires an event name", func() {
			Expect(post("/broadcast/events", `{"data":{}}`).Code).To(Equal(http.StatusBadRequest))
		})
	})
})
