package router

import (
	"github.com/gin-gonic/gin"

	"hecticradio.app/live/internal/http/handler"
)

func BroadcastRouter(router *gin.RouterGroup, handler *handler.BroadcastHandler) {
	router.POST("/broadcast/now-playing", handler.NowPlaying)
	router.POST("/broadcast/system", handler.SystemMessage)
	router.POST("/broadcast/events", handler.Event)
	router.POST("/notify/users/:userID", handler.NotifyUser)
	router.POST("/notify/admins", handler.NotifyAdmins)
}
