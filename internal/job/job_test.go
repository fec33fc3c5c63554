package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/libragent/internal/model"
)

type fakeCleaner struct {
	cutoff int64
	err    error
}

func (f *fakeCleaner) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestEmbeddingCacheCleanupJob(t *testing.T) {
	c := &fakeCleaner{}
	j := NewEmbeddingCacheCleanupJob(c, 0)
	now := time.Unix(1_000_000_000, 0)
	j.now = func() time.Time { return now }
	require.Equal(t, "embedding_cache_cleanup", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-30*24*time.Hour).Unix(), c.cutoff)

	c.err = errors.New("db down")
	require.Error(t, j.Run(context.Background()))
	require.NoError(t, NewEmbeddingCacheCleanupJob(nil, 1).Run(context.Background()))
}

type fakeReprocessor struct {
	groupID int64
	err     error
}

func (f *fakeReprocessor) ReprocessFailed(ctx context.Context, groupID int64) ([]model.ProcessResult, error) {
	f.groupID = groupID
	if f.err != nil {
		return nil, f.err
	}
	return []model.ProcessResult{{Success: true, DocumentID: 1}, {DocumentID: 2, Error: "x"}}, nil
}

func TestReprocessFailedJob(t *testing.T) {
	p := &fakeReprocessor{groupID: -1}
	j := NewReprocessFailedJob(p)
	require.Equal(t, "reprocess_failed", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, int64(0), p.groupID)

	p.err = errors.New("list failed")
	require.Error(t, j.Run(context.Background()))
}
