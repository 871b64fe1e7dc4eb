package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hecticradio.app/live/internal/http/handler"
	"hecticradio.app/live/internal/http/middleware"
)

type RouterConfig struct {
	AdminAPIKey string
	CORSOrigins []string
}

type Handlers struct {
	Socket    *handler.SocketHandler
	Presence  *handler.PresenceHandler
	Broadcast *handler.BroadcastHandler
	Jobs      *handler.JobsHandler
	Metrics   http.Handler
}

func SetupRoutes(router *gin.Engine, h Handlers, cfg RouterConfig) {
	// engine-level so preflight requests for POST-only routes are answered too
	router.Use(middleware.CORS(cfg.CORSOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	router.GET("/ws", h.Socket.Upgrade)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/presence", h.Presence.Get)

		admin := v1.Group("", middleware.RequireAdminAPIKey(cfg.AdminAPIKey))
		BroadcastRouter(admin, h.Broadcast)
		JobsRouter(admin, h.Jobs)
	}
}
