package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

const DefaultCollection = "library_documents"

type SearchResult struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
	Distance float64
	Score    float64
}

// Index is a named collection of vectors with their source text and metadata.
type Index interface {
	Name() string
	EnsureCollection(ctx context.Context) (string, error)
	Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]interface{}) error
	Query(ctx context.Context, vector []float32, topN int, filter *Filter) ([]SearchResult, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter *Filter) error
	Count(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
}

type Factory func(args interface{}) (Index, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func New(name string, args interface{}) (Index, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store: %s", name)
	}
	return factory(args)
}

// Score maps a distance onto (0, 1]; smaller distances score higher.
func Score(distance float64) float64 {
	if math.IsNaN(distance) || distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

func checkUpsertArgs(ids []string, vectors [][]float32, texts []string, metadatas []map[string]interface{}) error {
	if len(vectors) != len(ids) || len(texts) != len(ids) {
		return fmt.Errorf("upsert got %d ids, %d vectors, %d texts: %w", len(ids), len(vectors), len(texts), appErr.ErrInvalid)
	}
	if metadatas != nil && len(metadatas) != len(ids) {
		return fmt.Errorf("upsert got %d ids, %d metadatas: %w", len(ids), len(metadatas), appErr.ErrInvalid)
	}
	return nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}
