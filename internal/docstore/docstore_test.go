package docstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/libragent/internal/filestore"
	"github.com/xxxsen/libragent/internal/ingest"
	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

var _ ingest.DocumentStore = (*Store)(nil)

type memRepo struct {
	mu   sync.Mutex
	next int64
	docs map[int64]*model.Document
}

func newMemRepo() *memRepo {
	return &memRepo{docs: map[int64]*model.Document{}}
}

func (r *memRepo) Create(ctx context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	doc.ID = r.next
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id int64) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id int64, status model.DocumentStatus, chunkCount int, errMsg string, mtime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return appErr.ErrNotFound
	}
	d.Status, d.ChunkCount, d.ErrorMessage, d.Mtime = status, chunkCount, errMsg, mtime
	return nil
}

func (r *memRepo) ListByStatus(ctx context.Context, status model.DocumentStatus, groupID int64, limit uint) ([]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Document
	for _, d := range r.docs {
		if d.Status == status && (groupID == 0 || d.GroupID == groupID) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) ListByIDs(ctx context.Context, ids []int64) ([]*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Document
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func TestImportAndReadText(t *testing.T) {
	repo := newMemRepo()
	s := New(repo, filestore.NewLocalStore(t.TempDir()))
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	doc, err := s.Import(ctx, "/tmp/notes/Guide.MD", 3, []byte("---\ntitle: x\n---\n# Guide\n\nbody text"))
	require.NoError(t, err)
	require.Equal(t, int64(1), doc.ID)
	require.Equal(t, "Guide.MD", doc.OriginalFilename)
	require.Equal(t, "md", doc.FileType)
	require.Equal(t, model.DocumentStatusPending, doc.Status)
	require.Equal(t, int64(1700000000), doc.Ctime)

	text, err := s.GetText(ctx, doc.ID)
	require.NoError(t, err)
	require.Contains(t, text, "body text")

	require.NoError(t, s.SetStatus(ctx, doc.ID, model.DocumentStatusFailed, 0, "boom"))
	failed, err := s.ListByStatus(ctx, model.DocumentStatusFailed, 3)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "boom", failed[0].ErrorMessage)
}

func TestImportRejectsUnsupported(t *testing.T) {
	s := New(newMemRepo(), filestore.NewLocalStore(t.TempDir()))
	_, err := s.Import(context.Background(), "image.png", 1, []byte{0x89})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestGetTextMissing(t *testing.T) {
	repo := newMemRepo()
	s := New(repo, filestore.NewLocalStore(t.TempDir()))
	_, err := s.GetText(context.Background(), 9)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, repo.Create(context.Background(), &model.Document{FileKey: "gone.txt", FileType: "txt"}))
	_, err = s.GetText(context.Background(), 1)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	dir := t.TempDir()
	files := filestore.NewLocalStore(dir)
	s := New(newMemRepo(), files)
	ctx := context.Background()

	a, err := s.Import(ctx, "a.txt", 1, []byte("alpha"))
	require.NoError(t, err)
	b, err := s.Import(ctx, "b.txt", 1, []byte("beta"))
	require.NoError(t, err)

	docs, err := s.List(ctx, []int64{b.ID, a.ID, 99})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.GetDocument(ctx, a.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = files.Open(ctx, a.FileKey)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.ErrorIs(t, s.Delete(ctx, a.ID), appErr.ErrNotFound)
}
