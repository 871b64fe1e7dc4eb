package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"hecticradio.app/live/internal/http/handler"
	"hecticradio.app/live/internal/transport"
)

var _ = Describe("SocketHandler", func() {
	var (
		server    *httptest.Server
		connected chan *transport.Conn
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		sockets := transport.NewHub(transport.Config{}, nil)
		connected = make(chan *transport.Conn, 4)
		sockets.OnConnect(func(_ context.Context, c *transport.Conn) {
			connected <- c
		})

		router := gin.New()
		router.GET("/ws", handler.NewSocketHandler(sockets, "station-key").Upgrade)
		server = httptest.NewServer(router)

		DeferCleanup(func() {
			sockets.Shutdown(context.Background())
			server.Close()
		})
	})

	dial := func(query string) (*websocket.Conn, *http.Response, error) {
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
		return websocket.DefaultDialer.Dial(url, nil)
	}

	It("accepts listeners without a key", func() {
		ws, _, err := dial("")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ws.Close)

		var conn *transport.Conn
		Eventually(connected).Should(Receive(&conn))
		Expect(conn.Admin).To(BeFalse())
	})

	It("marks connections with the admin key", func() {
		ws, _, err := dial("?admin_key=station-key")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(ws.Close)

		var conn *transport.Conn
		Eventually(connected).Should(Receive(&conn))
		Expect(conn.Admin).To(BeTrue())
	})

	It("refuses a wrong admin key before upgrading", func() {
		_, resp, err := dial("?admin_key=guess")
		Expect(err).To(MatchError(websocket.ErrBadHandshake))
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Consistently(connected).ShouldNot(Receive())
	})
})
