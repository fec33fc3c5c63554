package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultChromaHost    = "http://localhost:8000"
	defaultChromaTimeout = 30 * time.Second
)

type chromaConfig struct {
	Host       string `json:"host"`
	Collection string `json:"collection"`
	Timeout    int64  `json:"timeout"`
}

// ChromaIndex talks to a chroma server over its v1 REST API.
type ChromaIndex struct {
	baseURL    string
	collection string
	client     *http.Client

	mu           sync.Mutex
	collectionID string
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaQueryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]*string                `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float64                `json:"distances"`
}

type chromaStatusError struct {
	status int
	body   string
}

func (e *chromaStatusError) Error() string {
	return fmt.Sprintf("chroma returned status %d: %s", e.status, e.body)
}

func NewChromaIndex(baseURL string, collection string, client *http.Client) *ChromaIndex {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultChromaHost
	}
	if collection == "" {
		collection = DefaultCollection
	}
	if client == nil {
		client = &http.Client{Timeout: defaultChromaTimeout}
	}
	return &ChromaIndex{baseURL: baseURL, collection: collection, client: client}
}

func (c *ChromaIndex) Name() string {
	return c.collection
}

// EnsureCollection resolves the collection id once, creating the collection
// when the server does not know it yet.
func (c *ChromaIndex) EnsureCollection(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionID != "" {
		return c.collectionID, nil
	}
	var col chromaCollection
	err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+url.PathEscape(c.collection), nil, &col)
	if err == nil && col.ID != "" {
		c.collectionID = col.ID
		return col.ID, nil
	}
	if err != nil && !isStatusError(err) {
		return "", appErr.Unavailable("chroma get collection", err)
	}
	body := map[string]interface{}{
		"name":          c.collection,
		"metadata":      map[string]interface{}{"description": "Library RAG documents"},
		"get_or_create": true,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections", body, &col); err != nil {
		return "", appErr.Unavailable("chroma create collection", err)
	}
	if col.ID == "" {
		return "", appErr.Unavailable("chroma create collection", fmt.Errorf("empty collection id"))
	}
	logutil.GetLogger(ctx).Info("chroma collection ready", zap.String("name", c.collection), zap.String("id", col.ID))
	c.collectionID = col.ID
	return col.ID, nil
}

func (c *ChromaIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]interface{}) error {
	if err := checkUpsertArgs(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	id, err := c.EnsureCollection(ctx)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"ids":        ids,
		"embeddings": vectors,
		"documents":  texts,
	}
	if metadatas != nil {
		payload["metadatas"] = metadatas
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/add", payload, nil); err != nil {
		return appErr.Unavailable("chroma add", err)
	}
	return nil
}

func (c *ChromaIndex) Query(ctx context.Context, vector []float32, topN int, filter *Filter) ([]SearchResult, error) {
	if topN <= 0 {
		return nil, nil
	}
	id, err := c.EnsureCollection(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"query_embeddings": [][]float32{vector},
		"n_results":        topN,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if where := filter.Where(); where != nil {
		payload["where"] = where
	}
	var resp chromaQueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/query", payload, &resp); err != nil {
		return nil, appErr.Unavailable("chroma query", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}
	ids := resp.IDs[0]
	results := make([]SearchResult, 0, len(ids))
	for i, docID := range ids {
		item := SearchResult{ID: docID}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			item.Content = *resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			item.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			item.Distance = resp.Distances[0][i]
			item.Score = Score(item.Distance)
		}
		results = append(results, item)
	}
	return results, nil
}

func (c *ChromaIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.delete(ctx, map[string]interface{}{"ids": ids})
}

func (c *ChromaIndex) DeleteByFilter(ctx context.Context, filter *Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("delete by filter requires a filter: %w", appErr.ErrInvalid)
	}
	return c.delete(ctx, map[string]interface{}{"where": filter.Where()})
}

func (c *ChromaIndex) delete(ctx context.Context, payload map[string]interface{}) error {
	id, err := c.EnsureCollection(ctx)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+id+"/delete", payload, nil); err != nil {
		return appErr.Unavailable("chroma delete", err)
	}
	return nil
}

func (c *ChromaIndex) Count(ctx context.Context) (int, error) {
	id, err := c.EnsureCollection(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+id+"/count", nil, &n); err != nil {
		return 0, appErr.Unavailable("chroma count", err)
	}
	return n, nil
}

func (c *ChromaIndex) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil); err != nil {
		return appErr.Unavailable("chroma heartbeat", err)
	}
	return nil
}

func (c *ChromaIndex) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode chroma request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create chroma request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call chroma %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &chromaStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode chroma response: %w", err)
	}
	return nil
}

func isStatusError(err error) bool {
	var se *chromaStatusError
	return errors.As(err, &se)
}

func createChromaFactory(args interface{}) (Index, error) {
	cfg := &chromaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	timeout := defaultChromaTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return NewChromaIndex(cfg.Host, cfg.Collection, &http.Client{Timeout: timeout}), nil
}

func init() {
	Register("chroma", createChromaFactory)
}
