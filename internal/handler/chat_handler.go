package handler

import (
	"context"
	"iter"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/libragent/internal/llm"
	"github.com/xxxsen/libragent/internal/model"
	"github.com/xxxsen/libragent/internal/pkg/errcode"
	"github.com/xxxsen/libragent/internal/pkg/response"
	"github.com/xxxsen/libragent/internal/rag"
)

type Asker interface {
	Query(ctx context.Context, req rag.Request) (*model.RAGResult, error)
	QueryStream(ctx context.Context, req rag.Request) iter.Seq2[rag.StreamEvent, error]
}

type ProviderLister interface {
	Providers() []llm.ProviderInfo
}

type ChatHandler struct {
	asker     Asker
	providers ProviderLister
}

func NewChatHandler(asker Asker, providers ProviderLister) *ChatHandler {
	return &ChatHandler{asker: asker, providers: providers}
}

func (h *ChatHandler) Ask(c *gin.Context) {
	var req rag.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	result, err := h.asker.Query(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// AskStream answers over server-sent events: "token" events carry text
// fragments, one "sources" event ends a successful answer and an "error"
// event ends a failed one.
func (h *ChatHandler) AskStream(c *gin.Context) {
	var req rag.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	ctx := c.Request.Context()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for ev, err := range h.asker.QueryStream(ctx, req) {
		if err != nil {
			code, msg := response.CodeOf(err)
			logutil.GetLogger(ctx).Error("stream answer failed", zap.Error(err))
			c.SSEvent("error", gin.H{"code": code, "message": msg})
			c.Writer.Flush()
			return
		}
		if ctx.Err() != nil {
			return
		}
		switch ev.Type {
		case rag.EventToken:
			c.SSEvent(rag.EventToken, gin.H{"token": ev.Token})
		case rag.EventSources:
			c.SSEvent(rag.EventSources, gin.H{"sources": ev.Sources})
		}
		c.Writer.Flush()
	}
}

func (h *ChatHandler) Providers(c *gin.Context) {
	response.Success(c, gin.H{"providers": h.providers.Providers()})
}
