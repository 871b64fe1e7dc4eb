package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"hecticradio.app/live/common/logger"
	"hecticradio.app/live/internal/http/middleware"
	"hecticradio.app/live/internal/transport"
)

type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, opts ...transport.ConnOption) (*transport.Conn, error)
}

type SocketHandler struct {
	sockets     SocketServer
	adminAPIKey string
}

func NewSocketHandler(sockets SocketServer, adminAPIKey string) *SocketHandler {
	return &SocketHandler{sockets: sockets, adminAPIKey: adminAPIKey}
}

// Upgrade turns the request into a socket connection. A valid ?admin_key=
// admits the connection to the admin room; a wrong one is refused.
func (h *SocketHandler) Upgrade(c *gin.Context) {
	ctx := c.Request.Context()

	admin := false
	if key := c.Query("admin_key"); key != "" {
		if !middleware.KeyMatches(key, h.adminAPIKey) {
			slog.WarnContext(ctx, "socket refused, bad admin key", "client_ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		admin = true
	}

	conn, err := h.sockets.Serve(c.Writer, c.Request, transport.WithAdmin(admin))
	if err != nil {
		// the upgrader has already written the error response
		slog.WarnContext(ctx, "socket upgrade failed", "error", err)
		c.Abort()
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{ConnID: logger.Ptr(conn.ID)})
	slog.DebugContext(ctx, "socket connected", "admin", admin)
}
