package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"github.com/xxxsen/libragent/internal/vectorindex"
	"go.uber.org/zap"
)

const DefaultTopK = 5

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Query(ctx context.Context, vector []float32, topN int, filter *vectorindex.Filter) ([]vectorindex.SearchResult, error)
}

type Options struct {
	TopK        int
	DocumentIDs []int64
	GroupID     int64
	MinScore    float64
}

// Retriever ranks indexed chunks against a query. It never degrades on its
// own: any backend failure is returned as ErrBackendUnavailable.
type Retriever struct {
	embedder Embedder
	index    Searcher
	topK     int
}

func New(embedder Embedder, index Searcher, defaultTopK int) *Retriever {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{embedder: embedder, index: index, topK: defaultTopK}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]model.RetrievalMatch, error) {
	k := opts.TopK
	if k <= 0 {
		k = r.topK
	}
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, appErr.Unavailable("embed query", err)
	}
	filter := BuildFilter(opts.DocumentIDs, opts.GroupID)
	// over-fetch so the score threshold still leaves k candidates
	found, err := r.index.Query(ctx, vector, k*2, filter)
	if err != nil {
		return nil, appErr.Unavailable("query vector index", err)
	}

	matches := make([]model.RetrievalMatch, 0, len(found))
	for _, sr := range found {
		if sr.Score < opts.MinScore {
			continue
		}
		matches = append(matches, toMatch(sr))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	logutil.GetLogger(ctx).Debug("retrieval finished",
		zap.Int("candidates", len(found)), zap.Int("matches", len(matches)), zap.Int("top_k", k))
	return matches, nil
}

func (r *Retriever) RetrieveForDocuments(ctx context.Context, query string, documentIDs []int64, topK int) ([]model.RetrievalMatch, error) {
	return r.Retrieve(ctx, query, Options{TopK: topK, DocumentIDs: documentIDs})
}

func (r *Retriever) RetrieveForGroup(ctx context.Context, query string, groupID int64, topK int) ([]model.RetrievalMatch, error) {
	return r.Retrieve(ctx, query, Options{TopK: topK, GroupID: groupID})
}

// BuildFilter scopes a query to a document set and/or a group. A zero group
// id means no group constraint.
func BuildFilter(documentIDs []int64, groupID int64) *vectorindex.Filter {
	var preds []vectorindex.Predicate
	if len(documentIDs) > 0 {
		values := make([]interface{}, 0, len(documentIDs))
		for _, id := range documentIDs {
			values = append(values, id)
		}
		preds = append(preds, vectorindex.In(model.MetaDocumentID, values...))
	}
	if groupID != 0 {
		preds = append(preds, vectorindex.Eq(model.MetaGroupID, groupID))
	}
	return vectorindex.And(preds...)
}

func toMatch(sr vectorindex.SearchResult) model.RetrievalMatch {
	md := sr.Metadata
	if md == nil {
		md = map[string]interface{}{}
	}
	docID := metaInt(md[model.MetaDocumentID])
	name, _ := md[model.MetaFilename].(string)
	if name == "" {
		name = fmt.Sprintf("Document %d", docID)
	}
	score := sr.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return model.RetrievalMatch{
		Content:      sr.Content,
		DocumentID:   docID,
		DocumentName: name,
		ChunkIndex:   int(metaInt(md[model.MetaChunkIndex])),
		Score:        score,
		Metadata:     md,
	}
}

// metaInt reads an integer that may have round-tripped through JSON.
func metaInt(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float32:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
