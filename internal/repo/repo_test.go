package repo

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/libragent/internal/config"
	"github.com/xxxsen/libragent/internal/db"
	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		User:     "libragent",
		Password: "libragent_pass",
		DBName:   "libragent_test",
	})
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(conn))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDocumentRepo(t *testing.T) {
	conn := openTestDB(t)
	r := NewDocumentRepo(conn)
	ctx := context.Background()
	now := time.Now().Unix()

	doc := &model.Document{GroupID: 99, OriginalFilename: "a.txt", FileKey: "k1", FileType: "txt",
		Status: model.DocumentStatusPending, Ctime: now, Mtime: now}
	require.NoError(t, r.Create(ctx, doc))
	require.NotZero(t, doc.ID)
	t.Cleanup(func() { _ = r.Delete(ctx, doc.ID) })

	got, err := r.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "a.txt", got.OriginalFilename)
	require.Equal(t, model.DocumentStatusPending, got.Status)

	require.NoError(t, r.UpdateStatus(ctx, doc.ID, model.DocumentStatusFailed, 0, "boom", now+1))
	failed, err := r.ListByStatus(ctx, model.DocumentStatusFailed, 99, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "boom", failed[0].ErrorMessage)

	list, err := r.ListByIDs(ctx, []int64{doc.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = r.GetByID(ctx, -1)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.ErrorIs(t, r.UpdateStatus(ctx, -1, model.DocumentStatusCompleted, 1, "", now), appErr.ErrNotFound)
}

func TestEmbeddingCacheRepo(t *testing.T) {
	conn := openTestDB(t)
	r := NewEmbeddingCacheRepo(conn)
	ctx := context.Background()

	_, ok, err := r.Get(ctx, "test-model", "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Save(ctx, &model.EmbeddingCache{ModelName: "test-model", ContentHash: "h1", Embedding: []float32{1, 2, 3}, Ctime: 100}))
	vec, ok, err := r.Get(ctx, "test-model", "h1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, vec)

	n, err := r.DeleteBefore(ctx, 101)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(1))
}
