package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"github.com/xxxsen/libragent/internal/splitter"
	"github.com/xxxsen/libragent/internal/vectorindex"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 4
	DefaultPreviewMax  = 5
	upsertBatchSize    = 100
	previewChars       = 200
)

// DocumentStore is the owner of document records and their status.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) (*model.Document, error)
	GetText(ctx context.Context, id int64) (string, error)
	SetStatus(ctx context.Context, id int64, status model.DocumentStatus, chunkCount int, errMsg string) error
	ListByStatus(ctx context.Context, status model.DocumentStatus, groupID int64) ([]*model.Document, error)
}

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]interface{}) error
	DeleteByFilter(ctx context.Context, filter *vectorindex.Filter) error
}

type Options struct {
	Concurrency int
}

type ChunkPreview struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Length  int    `json:"length"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Processor runs split, embed and upsert for one document at a time and
// reports the outcome to the document store.
type Processor struct {
	store    DocumentStore
	splitter *splitter.Splitter
	embedder Embedder
	index    VectorStore
	opts     Options
}

// NewProcessor builds a processor. A nil store is allowed: raw text preview
// and vector deletion keep working, everything else fails with ErrInvalid.
func NewProcessor(store DocumentStore, sp *splitter.Splitter, embedder Embedder, index VectorStore, opts Options) *Processor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if store == nil {
		store = noStore{}
	}
	return &Processor{store: store, splitter: sp, embedder: embedder, index: index, opts: opts}
}

// ProcessDocument never returns an error: failures are written to the
// document's status and reported in the result.
func (p *Processor) ProcessDocument(ctx context.Context, id int64) model.ProcessResult {
	logger := logutil.GetLogger(ctx).With(zap.Int64("document_id", id))
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		logger.Error("load document failed", zap.Error(err))
		return model.ProcessResult{DocumentID: id, Error: err.Error()}
	}
	start := time.Now()
	if err := p.store.SetStatus(ctx, id, model.DocumentStatusProcessing, 0, ""); err != nil {
		logger.Error("mark document processing failed", zap.Error(err))
		return model.ProcessResult{DocumentID: id, Error: err.Error()}
	}
	logger.Info("start process document", zap.String("filename", doc.OriginalFilename))

	count, err := p.run(ctx, doc)
	if err != nil {
		err = fmt.Errorf("%w: %w", appErr.ErrProcessing, err)
		logger.Error("process document failed", zap.Error(err), zap.Duration("cost", time.Since(start)))
		if serr := p.store.SetStatus(ctx, id, model.DocumentStatusFailed, 0, err.Error()); serr != nil {
			logger.Error("mark document failed failed", zap.Error(serr))
		}
		return model.ProcessResult{DocumentID: id, Error: err.Error()}
	}
	if err := p.store.SetStatus(ctx, id, model.DocumentStatusCompleted, count, ""); err != nil {
		logger.Error("mark document completed failed", zap.Error(err))
		return model.ProcessResult{DocumentID: id, ChunkCount: count, Error: err.Error()}
	}
	logger.Info("process document finished", zap.Int("chunk_count", count), zap.Duration("cost", time.Since(start)))
	return model.ProcessResult{Success: true, DocumentID: id, ChunkCount: count}
}

func (p *Processor) run(ctx context.Context, doc *model.Document) (int, error) {
	text, err := p.store.GetText(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("read document text: %w", err)
	}
	chunks := p.splitter.Split(text, map[string]interface{}{
		model.MetaDocumentID: doc.ID,
		model.MetaGroupID:    doc.GroupID,
		model.MetaFilename:   doc.OriginalFilename,
		model.MetaFileType:   doc.FileType,
	})
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Content)
	}
	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if err := p.DeleteDocumentVectors(ctx, doc.ID); err != nil {
		return 0, err
	}
	for begin := 0; begin < len(chunks); begin += upsertBatchSize {
		end := min(begin+upsertBatchSize, len(chunks))
		ids := make([]string, 0, end-begin)
		metas := make([]map[string]interface{}, 0, end-begin)
		for _, c := range chunks[begin:end] {
			ids = append(ids, VectorID(doc.ID, c.ChunkIndex))
			metas = append(metas, c.Metadata)
		}
		if err := p.index.Upsert(ctx, ids, vectors[begin:end], texts[begin:end], metas); err != nil {
			return 0, fmt.Errorf("upsert chunks: %w", err)
		}
	}
	return len(chunks), nil
}

// ProcessBatch processes documents in parallel. Results keep the order of ids.
func (p *Processor) ProcessBatch(ctx context.Context, ids []int64) []model.ProcessResult {
	runID := uuid.NewString()
	logger := logutil.GetLogger(ctx).With(zap.String("run_id", runID))
	logger.Info("start process batch", zap.Int("document_count", len(ids)))
	results := make([]model.ProcessResult, len(ids))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = p.ProcessDocument(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	logger.Info("process batch finished", zap.Int("document_count", len(ids)), zap.Int("failed", failed))
	return results
}

// ReprocessFailed retries every failed document, limited to one group when
// groupID is not zero.
func (p *Processor) ReprocessFailed(ctx context.Context, groupID int64) ([]model.ProcessResult, error) {
	docs, err := p.store.ListByStatus(ctx, model.DocumentStatusFailed, groupID)
	if err != nil {
		return nil, fmt.Errorf("list failed documents: %w", err)
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return p.ProcessBatch(ctx, ids), nil
}

func (p *Processor) DeleteDocumentVectors(ctx context.Context, id int64) error {
	if err := p.index.DeleteByFilter(ctx, vectorindex.And(vectorindex.Eq(model.MetaDocumentID, id))); err != nil {
		return fmt.Errorf("delete document vectors: %w", err)
	}
	return nil
}

// Preview splits text without storing anything and returns at most max chunks.
func (p *Processor) Preview(text string, max int) []ChunkPreview {
	if max <= 0 {
		max = DefaultPreviewMax
	}
	chunks := p.splitter.Split(text, nil)
	if len(chunks) > max {
		chunks = chunks[:max]
	}
	out := make([]ChunkPreview, 0, len(chunks))
	for _, c := range chunks {
		runes := []rune(c.Content)
		content := c.Content
		if len(runes) > previewChars {
			content = string(runes[:previewChars]) + "..."
		}
		out = append(out, ChunkPreview{
			Index:   c.ChunkIndex,
			Content: content,
			Length:  len(runes),
			Start:   c.StartOffset,
			End:     c.EndOffset,
		})
	}
	return out
}

func (p *Processor) PreviewDocument(ctx context.Context, id int64, max int) ([]ChunkPreview, error) {
	text, err := p.store.GetText(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Preview(text, max), nil
}

func VectorID(documentID int64, chunkIndex int) string {
	return strconv.FormatInt(documentID, 10) + "_" + strconv.Itoa(chunkIndex)
}

var errNoStore = fmt.Errorf("document store is not configured: %w", appErr.ErrInvalid)

type noStore struct{}

func (noStore) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	return nil, errNoStore
}

func (noStore) GetText(ctx context.Context, id int64) (string, error) {
	return "", errNoStore
}

func (noStore) SetStatus(ctx context.Context, id int64, status model.DocumentStatus, chunkCount int, errMsg string) error {
	return errNoStore
}

func (noStore) ListByStatus(ctx context.Context, status model.DocumentStatus, groupID int64) ([]*model.Document, error) {
	return nil, errNoStore
}
