package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/libragent/internal/model"
	"github.com/xxxsen/libragent/internal/pkg/dbutil"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

const documentTable = "documents"

var documentFields = []string{
	"id", "group_id", "original_filename", "file_key", "file_type", "file_size",
	"processing_status", "chunk_count", "error_message", "ctime", "mtime",
}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create inserts doc and fills in its generated id.
func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	const query = `
		INSERT INTO documents (group_id, original_filename, file_key, file_type, file_size,
			processing_status, chunk_count, error_message, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	row := r.db.QueryRowContext(ctx, query,
		doc.GroupID, doc.OriginalFilename, doc.FileKey, doc.FileType, doc.FileSize,
		string(doc.Status), doc.ChunkCount, doc.ErrorMessage, doc.Ctime, doc.Mtime,
	)
	return row.Scan(&doc.ID)
}

func (r *DocumentRepo) GetByID(ctx context.Context, id int64) (*model.Document, error) {
	where := map[string]interface{}{
		"id": id,
	}
	docs, err := r.selectDocuments(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, appErr.ErrNotFound
	}
	return docs[0], nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id int64, status model.DocumentStatus, chunkCount int, errMsg string, mtime int64) error {
	where := map[string]interface{}{
		"id": id,
	}
	update := map[string]interface{}{
		"processing_status": string(status),
		"chunk_count":       chunkCount,
		"error_message":     errMsg,
		"mtime":             mtime,
	}
	sqlStr, args, err := builder.BuildUpdate(documentTable, where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// ListByStatus returns documents in the given status ordered by id. A zero
// groupID matches every group.
func (r *DocumentRepo) ListByStatus(ctx context.Context, status model.DocumentStatus, groupID int64, limit uint) ([]*model.Document, error) {
	where := map[string]interface{}{
		"processing_status": string(status),
		"_orderby":          "id asc",
	}
	if groupID != 0 {
		where["group_id"] = groupID
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	return r.selectDocuments(ctx, where)
}

func (r *DocumentRepo) ListByIDs(ctx context.Context, ids []int64) ([]*model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sqlStr, args, err := dbutil.In(`SELECT id, group_id, original_filename, file_key, file_type, file_size,
		processing_status, chunk_count, error_message, ctime, mtime
		FROM documents WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, sqlStr, args)
}

func (r *DocumentRepo) Delete(ctx context.Context, id int64) error {
	sqlStr, args, err := builder.BuildDelete(documentTable, map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) selectDocuments(ctx context.Context, where map[string]interface{}) ([]*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect(documentTable, where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.query(ctx, sqlStr, args)
}

func (r *DocumentRepo) query(ctx context.Context, sqlStr string, args []interface{}) ([]*model.Document, error) {
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Document
	for rows.Next() {
		var doc model.Document
		var status string
		if err := rows.Scan(&doc.ID, &doc.GroupID, &doc.OriginalFilename, &doc.FileKey, &doc.FileType, &doc.FileSize,
			&status, &doc.ChunkCount, &doc.ErrorMessage, &doc.Ctime, &doc.Mtime); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErr.ErrNotFound
			}
			return nil, err
		}
		doc.Status = model.DocumentStatus(status)
		out = append(out, &doc)
	}
	return out, rows.Err()
}
