package handler

import (
	"github.com/gin-gonic/gin"
)

const StreamPath = "/chat/ask/stream"

type RouterDeps struct {
	Documents *DocumentHandler
	Chat      *ChatHandler
	Debug     *DebugHandler
	ChatLimit gin.HandlerFunc
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/documents", deps.Documents.Import)
	api.GET("/documents", deps.Documents.List)
	api.DELETE("/documents/:id", deps.Documents.Delete)
	api.POST("/documents/process", deps.Documents.ProcessBatch)
	api.POST("/documents/reprocess", deps.Documents.ReprocessFailed)
	api.POST("/documents/preview", deps.Documents.Preview)
	api.POST("/documents/:id/process", deps.Documents.Process)
	api.GET("/documents/:id/preview", deps.Documents.PreviewDocument)
	api.DELETE("/documents/:id/vectors", deps.Documents.DeleteVectors)

	chat := api.Group("")
	if deps.ChatLimit != nil {
		chat.Use(deps.ChatLimit)
	}
	chat.POST("/chat/ask", deps.Chat.Ask)
	chat.POST(StreamPath, deps.Chat.AskStream)
	api.GET("/llm/providers", deps.Chat.Providers)

	api.GET("/debug/status", deps.Debug.Status)
}
