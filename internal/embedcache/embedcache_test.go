package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/libragent/internal/model"
)

type countingEmbedder struct {
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("backend down")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string {
	return "fake-model"
}

type memStore struct {
	items   map[string][]float32
	getErr  error
	saveErr error
}

func (m *memStore) Get(ctx context.Context, modelName, contentHash string) ([]float32, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.items[modelName+":"+contentHash]
	return v, ok, nil
}

func (m *memStore) Save(ctx context.Context, item *model.EmbeddingCache) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.items[item.ModelName+":"+item.ContentHash] = item.Embedding
	return nil
}

func TestLruCache(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 16, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	first[0] = 99
	second, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, float32(5), second[0])
	require.Equal(t, 1, next.calls)
	require.Equal(t, "fake-model", e.ModelName())

	_, err = e.Embed(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestLruCacheDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLruCacheToEmbedder(next, 0, time.Minute))
	require.Same(t, next, WrapLruCacheToEmbedder(next, 10, 0))
}

func TestDBCache(t *testing.T) {
	next := &countingEmbedder{}
	store := &memStore{items: map[string][]float32{}}
	e := WrapDBCacheToEmbedder(next, store)
	ctx := context.Background()

	_, err := e.Embed(ctx, "abc")
	require.NoError(t, err)
	vec, err := e.Embed(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, vec)
	require.Equal(t, 1, next.calls)
	require.Len(t, store.items, 1)
}

func TestDBCacheStoreErrorsFallThrough(t *testing.T) {
	next := &countingEmbedder{}
	store := &memStore{items: map[string][]float32{}, getErr: errors.New("db down"), saveErr: errors.New("db down")}
	e := WrapDBCacheToEmbedder(next, store)
	vec, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 1}, vec)
}

func TestDBCacheBackendError(t *testing.T) {
	store := &memStore{items: map[string][]float32{}}
	e := WrapDBCacheToEmbedder(&countingEmbedder{fail: true}, store)
	_, err := e.Embed(context.Background(), "abc")
	require.Error(t, err)
	require.Empty(t, store.items)
}

func TestBuildCacheKey(t *testing.T) {
	key, hash, name := buildCacheKey(" ", "x")
	require.Equal(t, "unknown", name)
	require.Len(t, hash, 64)
	require.Equal(t, "embed:unknown:"+hash, key)
}
