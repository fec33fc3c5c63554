package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

type fakeChroma struct {
	mu       sync.Mutex
	creates  int
	gets     int
	requests map[string]map[string]interface{}
}

func (f *fakeChroma) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]interface{}
		if r.Body != nil && r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		}
		f.requests[r.Method+" "+r.URL.Path] = body
		switch r.Method + " " + r.URL.Path {
		case "GET /api/v1/collections/library_documents":
			f.gets++
			http.Error(w, `{"error":"collection does not exist"}`, http.StatusInternalServerError)
		case "POST /api/v1/collections":
			f.creates++
			_, _ = w.Write([]byte(`{"id":"col-1","name":"library_documents"}`))
		case "POST /api/v1/collections/col-1/add", "POST /api/v1/collections/col-1/delete":
			_, _ = w.Write([]byte(`true`))
		case "POST /api/v1/collections/col-1/query":
			_, _ = w.Write([]byte(`{
				"ids": [["1_0", "2_3"]],
				"documents": [["first chunk", null]],
				"metadatas": [[{"document_id": 1, "filename": "a.txt"}, {"document_id": 2}]],
				"distances": [[0.0, 3.0]]
			}`))
		case "GET /api/v1/collections/col-1/count":
			_, _ = w.Write([]byte(`7`))
		case "GET /api/v1/heartbeat":
			_, _ = w.Write([]byte(`{"nanosecond heartbeat": 1}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func newFakeChroma(t *testing.T) (*fakeChroma, *ChromaIndex) {
	t.Helper()
	f := &fakeChroma{requests: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, NewChromaIndex(srv.URL, "", srv.Client())
}

func TestChromaEnsureCollectionCached(t *testing.T) {
	f, c := newFakeChroma(t)
	ctx := context.Background()
	id, err := c.EnsureCollection(ctx)
	require.NoError(t, err)
	require.Equal(t, "col-1", id)
	id, err = c.EnsureCollection(ctx)
	require.NoError(t, err)
	require.Equal(t, "col-1", id)
	require.Equal(t, 1, f.creates)
	require.Equal(t, 1, f.gets)
	require.Equal(t, "library_documents", f.requests["POST /api/v1/collections"]["name"])
}

func TestChromaUpsertAndQuery(t *testing.T) {
	f, c := newFakeChroma(t)
	ctx := context.Background()
	err := c.Upsert(ctx, []string{"1_0"}, [][]float32{{0.5, 1}}, []string{"first chunk"},
		[]map[string]interface{}{{"document_id": int64(1)}})
	require.NoError(t, err)
	add := f.requests["POST /api/v1/collections/col-1/add"]
	require.Equal(t, []interface{}{"1_0"}, add["ids"])
	require.Equal(t, []interface{}{"first chunk"}, add["documents"])

	res, err := c.Query(ctx, []float32{0.5, 1}, 4, And(In("document_id", int64(1), int64(2))))
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "first chunk", res[0].Content)
	require.Equal(t, 1.0, res[0].Score)
	require.Equal(t, "", res[1].Content)
	require.Equal(t, 0.25, res[1].Score)
	require.Equal(t, float64(1), res[0].Metadata["document_id"])

	q := f.requests["POST /api/v1/collections/col-1/query"]
	require.Equal(t, float64(4), q["n_results"])
	require.Equal(t, map[string]interface{}{
		"document_id": map[string]interface{}{"$in": []interface{}{float64(1), float64(2)}},
	}, q["where"])
}

func TestChromaDeleteCountHealth(t *testing.T) {
	f, c := newFakeChroma(t)
	ctx := context.Background()
	require.NoError(t, c.DeleteByFilter(ctx, And(Eq("document_id", int64(9)))))
	require.Equal(t, map[string]interface{}{
		"where": map[string]interface{}{"document_id": map[string]interface{}{"$eq": float64(9)}},
	}, f.requests["POST /api/v1/collections/col-1/delete"])
	require.NoError(t, c.DeleteByIDs(ctx, []string{"9_0"}))
	require.ErrorIs(t, c.DeleteByFilter(ctx, nil), appErr.ErrInvalid)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, c.HealthCheck(ctx))
}

func TestChromaUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewChromaIndex(url, "docs", nil)
	_, err := c.Query(context.Background(), []float32{1}, 3, nil)
	require.ErrorIs(t, err, appErr.ErrBackendUnavailable)
	require.ErrorIs(t, c.HealthCheck(context.Background()), appErr.ErrBackendUnavailable)
}
