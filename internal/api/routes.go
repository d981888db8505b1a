package api

import (
	"github.com/gin-gonic/gin"
)

func InitRoutes(r *gin.Engine, h *Handler) {
	apiGroup := r.Group("/api")
	{
		// 扩展消息通道: {"action": "..."}
		apiGroup.POST("/message", h.MessageHandler)

		// Settings
		apiGroup.GET("/settings", h.GetSettingsHandler)
		apiGroup.POST("/settings", h.SaveSettingsHandler)
		apiGroup.POST("/settings/reset", h.ResetSettingsHandler)

		// Managed domains
		apiGroup.POST("/domains", h.AddDomainHandler)
		apiGroup.DELETE("/domains/:domain", h.RemoveDomainHandler)

		// History
		apiGroup.GET("/history", h.HistoryHandler)
		apiGroup.DELETE("/history", h.ClearHistoryHandler)

		// Downloads
		apiGroup.POST("/downloads", h.CreateDownloadHandler)
		apiGroup.GET("/downloads/:id", h.GetDownloadHandler)
		apiGroup.POST("/context-menu", h.ContextMenuHandler)

		apiGroup.GET("/badge", h.BadgeHandler)
		apiGroup.GET("/events", h.SSEHandler)
	}
}
