package handler

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/libragent/internal/ingest"
	"github.com/xxxsen/libragent/internal/model"
	"github.com/xxxsen/libragent/internal/pkg/errcode"
	"github.com/xxxsen/libragent/internal/pkg/response"
)

const maxUploadBytes = 50 << 20

type Processor interface {
	ProcessDocument(ctx context.Context, id int64) model.ProcessResult
	ProcessBatch(ctx context.Context, ids []int64) []model.ProcessResult
	ReprocessFailed(ctx context.Context, groupID int64) ([]model.ProcessResult, error)
	DeleteDocumentVectors(ctx context.Context, id int64) error
	Preview(text string, max int) []ingest.ChunkPreview
	PreviewDocument(ctx context.Context, id int64, max int) ([]ingest.ChunkPreview, error)
}

// Library owns document records and their raw files.
type Library interface {
	Import(ctx context.Context, filename string, groupID int64, data []byte) (*model.Document, error)
	List(ctx context.Context, ids []int64) ([]*model.Document, error)
	ListByStatus(ctx context.Context, status model.DocumentStatus, groupID int64) ([]*model.Document, error)
	Delete(ctx context.Context, id int64) error
}

type DocumentHandler struct {
	processor Processor
	library   Library
}

// NewDocumentHandler builds the handler; library may be nil when no
// document database is configured.
func NewDocumentHandler(processor Processor, library Library) *DocumentHandler {
	return &DocumentHandler{processor: processor, library: library}
}

func (h *DocumentHandler) requireLibrary(c *gin.Context) bool {
	if h.library == nil {
		response.Error(c, errcode.ErrInvalid, "document library is not configured")
		return false
	}
	return true
}

type processBatchRequest struct {
	DocumentIDs []int64 `json:"document_ids"`
}

type reprocessRequest struct {
	GroupID int64 `json:"group_id"`
}

type previewRequest struct {
	Text      string `json:"text"`
	MaxChunks int    `json:"max_chunks"`
}

// Import accepts a multipart upload ("file", optional "group_id") and
// registers it as a pending document. Set "process=true" to ingest it
// immediately.
func (h *DocumentHandler) Import(c *gin.Context) {
	if !h.requireLibrary(c) {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "file is required")
		return
	}
	if fh.Size > maxUploadBytes {
		response.Error(c, errcode.ErrInvalid, "file too large")
		return
	}
	groupID, _ := strconv.ParseInt(c.PostForm("group_id"), 10, 64)
	f, err := fh.Open()
	if err != nil {
		handleError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		handleError(c, err)
		return
	}
	doc, err := h.library.Import(c.Request.Context(), fh.Filename, groupID, data)
	if err != nil {
		handleError(c, err)
		return
	}
	if c.PostForm("process") != "true" {
		response.Success(c, gin.H{"document": doc})
		return
	}
	result := h.processor.ProcessDocument(c.Request.Context(), doc.ID)
	response.Success(c, gin.H{"document": doc, "result": result})
}

// List returns documents by "ids" (comma separated), or by "status" within an
// optional "group_id".
func (h *DocumentHandler) List(c *gin.Context) {
	if !h.requireLibrary(c) {
		return
	}
	var (
		docs []*model.Document
		err  error
	)
	if raw := strings.TrimSpace(c.Query("ids")); raw != "" {
		ids, ok := parseIDList(raw)
		if !ok {
			response.Error(c, errcode.ErrInvalid, "invalid ids")
			return
		}
		docs, err = h.library.List(c.Request.Context(), ids)
	} else {
		status := model.DocumentStatus(c.Query("status"))
		switch status {
		case model.DocumentStatusPending, model.DocumentStatusProcessing, model.DocumentStatusCompleted, model.DocumentStatusFailed:
		default:
			response.Error(c, errcode.ErrInvalid, "ids or a valid status is required")
			return
		}
		groupID, _ := strconv.ParseInt(c.Query("group_id"), 10, 64)
		docs, err = h.library.ListByStatus(c.Request.Context(), status, groupID)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	response.Success(c, gin.H{"documents": docs})
}

// Delete drops the document's vectors first so a failure leaves the record
// in place for a retry.
func (h *DocumentHandler) Delete(c *gin.Context) {
	if !h.requireLibrary(c) {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.processor.DeleteDocumentVectors(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	if err := h.library.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"document_id": id})
}

func (h *DocumentHandler) Process(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	response.Success(c, h.processor.ProcessDocument(c.Request.Context(), id))
}

func (h *DocumentHandler) ProcessBatch(c *gin.Context) {
	var req processBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.DocumentIDs) == 0 {
		response.Error(c, errcode.ErrInvalid, "document_ids is required")
		return
	}
	response.Success(c, gin.H{"results": h.processor.ProcessBatch(c.Request.Context(), req.DocumentIDs)})
}

func (h *DocumentHandler) ReprocessFailed(c *gin.Context) {
	var req reprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	results, err := h.processor.ReprocessFailed(c.Request.Context(), req.GroupID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}

func (h *DocumentHandler) DeleteVectors(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.processor.DeleteDocumentVectors(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"document_id": id})
}

func (h *DocumentHandler) Preview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	response.Success(c, gin.H{"chunks": h.processor.Preview(req.Text, req.MaxChunks)})
}

func (h *DocumentHandler) PreviewDocument(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	max, _ := strconv.Atoi(c.Query("max_chunks"))
	chunks, err := h.processor.PreviewDocument(c.Request.Context(), id, max)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"chunks": chunks})
}
