package docstore

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/libragent/internal/filestore"
	"github.com/xxxsen/libragent/internal/model"
	"github.com/xxxsen/libragent/internal/parser"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

type Repo interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id int64) (*model.Document, error)
	UpdateStatus(ctx context.Context, id int64, status model.DocumentStatus, chunkCount int, errMsg string, mtime int64) error
	ListByStatus(ctx context.Context, status model.DocumentStatus, groupID int64, limit uint) ([]*model.Document, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*model.Document, error)
	Delete(ctx context.Context, id int64) error
}

// Store serves document records from the database and their text from the
// raw files, parsed on demand.
type Store struct {
	repo  Repo
	files filestore.Store
	now   func() time.Time
}

func New(repo Repo, files filestore.Store) *Store {
	return &Store{repo: repo, files: files, now: time.Now}
}

func (s *Store) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Store) GetText(ctx context.Context, id int64) (string, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	data, err := filestore.ReadAll(ctx, s.files, doc.FileKey)
	if err != nil {
		return "", fmt.Errorf("read raw file: %w", err)
	}
	parsed, err := parser.Parse(data, doc.FileType)
	if err != nil {
		return "", err
	}
	logutil.GetLogger(ctx).Debug("document parsed",
		zap.Int64("document_id", id),
		zap.Int("word_count", parsed.WordCount),
		zap.Int("line_count", parsed.LineCount),
	)
	return parsed.Content, nil
}

func (s *Store) SetStatus(ctx context.Context, id int64, status model.DocumentStatus, chunkCount int, errMsg string) error {
	return s.repo.UpdateStatus(ctx, id, status, chunkCount, errMsg, s.now().Unix())
}

func (s *Store) ListByStatus(ctx context.Context, status model.DocumentStatus, groupID int64) ([]*model.Document, error) {
	return s.repo.ListByStatus(ctx, status, groupID, 0)
}

// Import stores raw bytes and registers a pending document for them.
func (s *Store) Import(ctx context.Context, filename string, groupID int64, data []byte) (*model.Document, error) {
	fileType := parser.FileTypeOf(filename)
	if !parser.IsSupported(fileType) {
		return nil, fmt.Errorf("unsupported file type %q: %w", filepath.Ext(filename), appErr.ErrInvalid)
	}
	key := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	if err := s.files.Save(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("save raw file: %w", err)
	}
	now := s.now().Unix()
	doc := &model.Document{
		GroupID:          groupID,
		OriginalFilename: filepath.Base(filename),
		FileKey:          key,
		FileType:         fileType,
		FileSize:         int64(len(data)),
		Status:           model.DocumentStatusPending,
		Ctime:            now,
		Mtime:            now,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		_ = s.files.Delete(ctx, key)
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context, ids []int64) ([]*model.Document, error) {
	return s.repo.ListByIDs(ctx, ids)
}

// Delete removes the document record and its raw file. Vectors are owned by
// the ingestion side and must be dropped by the caller.
func (s *Store) Delete(ctx context.Context, id int64) error {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.files.Delete(ctx, doc.FileKey); err != nil && !appErr.IsNotFound(err) {
		logutil.GetLogger(ctx).Warn("delete raw file failed",
			zap.Int64("document_id", id),
			zap.String("file_key", doc.FileKey),
			zap.Error(err),
		)
	}
	return nil
}
