package router

import (
	"github.com/gin-gonic/gin"

	"hecticradio.app/live/internal/http/handler"
)

func JobsRouter(router *gin.RouterGroup, handler *handler.JobsHandler) {
	router.POST("/jobs/music-sync", handler.EnqueueMusicSync)
	router.GET("/jobs/stats", handler.Stats)
	router.GET("/content/counts", handler.ContentCounts)
}
