package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"go.uber.org/zap"
)

const defaultPGTable = "rag_chunks"

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type pgvectorConfig struct {
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

// PGVectorIndex stores vectors in a postgres table through the pgvector
// extension and ranks them by L2 distance.
type PGVectorIndex struct {
	pool  *pgxpool.Pool
	table string

	mu      sync.Mutex
	ensured bool
}

func NewPGVectorIndex(pool *pgxpool.Pool, table string) (*PGVectorIndex, error) {
	if table == "" {
		table = defaultPGTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: %w", table, appErr.ErrInvalid)
	}
	return &PGVectorIndex{pool: pool, table: table}, nil
}

func (p *PGVectorIndex) Name() string {
	return p.table
}

func (p *PGVectorIndex) EnsureCollection(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured {
		return p.table, nil
	}
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding VECTOR NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			mtime BIGINT NOT NULL
		)`, p.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_metadata ON %s USING GIN (metadata)", p.table, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return "", appErr.Unavailable("pgvector ensure table", err)
		}
	}
	logutil.GetLogger(ctx).Info("pgvector table ready", zap.String("table", p.table))
	p.ensured = true
	return p.table, nil
}

func (p *PGVectorIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]interface{}) error {
	if err := checkUpsertArgs(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.EnsureCollection(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, embedding, content, metadata, mtime)
		VALUES ($1, $2::vector, $3, $4::jsonb, $5)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			mtime = EXCLUDED.mtime`, p.table)
	now := time.Now().Unix()
	batch := &pgx.Batch{}
	for i, id := range ids {
		md := map[string]interface{}{}
		if metadatas != nil && metadatas[i] != nil {
			md = metadatas[i]
		}
		raw, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", id, err)
		}
		batch.Queue(query, id, pgvector.NewVector(vectors[i]), texts[i], string(raw), now)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return appErr.Unavailable("pgvector upsert", err)
	}
	return nil
}

func (p *PGVectorIndex) Query(ctx context.Context, vector []float32, topN int, filter *Filter) ([]SearchResult, error) {
	if topN <= 0 {
		return nil, nil
	}
	if _, err := p.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	args := []interface{}{pgvector.NewVector(vector), topN}
	where, args := filterSQL(filter, args)
	query := fmt.Sprintf(`SELECT id, content, metadata, embedding <-> $1::vector AS distance
		FROM %s%s
		ORDER BY distance
		LIMIT $2`, p.table, where)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, appErr.Unavailable("pgvector query", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, topN)
	for rows.Next() {
		var item SearchResult
		var raw []byte
		if err := rows.Scan(&item.ID, &item.Content, &raw, &item.Distance); err != nil {
			return nil, appErr.Unavailable("pgvector scan", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &item.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", item.ID, err)
			}
		}
		item.Score = Score(item.Distance)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Unavailable("pgvector query", err)
	}
	return results, nil
}

func (p *PGVectorIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.EnsureCollection(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1::text[])", p.table)
	if _, err := p.pool.Exec(ctx, query, ids); err != nil {
		return appErr.Unavailable("pgvector delete", err)
	}
	return nil
}

func (p *PGVectorIndex) DeleteByFilter(ctx context.Context, filter *Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("delete by filter requires a filter: %w", appErr.ErrInvalid)
	}
	if _, err := p.EnsureCollection(ctx); err != nil {
		return err
	}
	where, args := filterSQL(filter, nil)
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", p.table, where), args...); err != nil {
		return appErr.Unavailable("pgvector delete", err)
	}
	return nil
}

func (p *PGVectorIndex) Count(ctx context.Context) (int, error) {
	if _, err := p.EnsureCollection(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.table)).Scan(&n); err != nil {
		return 0, appErr.Unavailable("pgvector count", err)
	}
	return n, nil
}

func (p *PGVectorIndex) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return appErr.Unavailable("pgvector ping", err)
	}
	return nil
}

func (p *PGVectorIndex) Close() {
	p.pool.Close()
}

// filterSQL appends the filter's arguments to args and returns the WHERE
// clause referencing them. Field names travel as parameters too.
func filterSQL(filter *Filter, args []interface{}) (string, []interface{}) {
	preds := filter.Predicates()
	if len(preds) == 0 {
		return "", args
	}
	clauses := make([]string, 0, len(preds))
	for _, pred := range preds {
		args = append(args, pred.Field)
		fieldArg := len(args)
		if pred.Op == OpEq {
			args = append(args, scalarKey(pred.Values[0]))
			clauses = append(clauses, fmt.Sprintf("metadata->>$%d::text = $%d", fieldArg, len(args)))
			continue
		}
		values := make([]string, 0, len(pred.Values))
		for _, v := range pred.Values {
			values = append(values, scalarKey(v))
		}
		args = append(args, values)
		clauses = append(clauses, fmt.Sprintf("metadata->>$%d::text = ANY($%d::text[])", fieldArg, len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func createPGVectorFactory(args interface{}) (Index, error) {
	cfg := &pgvectorConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("pgvector dsn is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	idx, err := NewPGVectorIndex(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func init() {
	Register("pgvector", createPGVectorFactory)
}
