package main

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/libragent/internal/config"
	"github.com/xxxsen/libragent/internal/db"
	"github.com/xxxsen/libragent/internal/docstore"
	"github.com/xxxsen/libragent/internal/embedcache"
	"github.com/xxxsen/libragent/internal/embedding"
	"github.com/xxxsen/libragent/internal/filestore"
	"github.com/xxxsen/libragent/internal/handler"
	"github.com/xxxsen/libragent/internal/ingest"
	"github.com/xxxsen/libragent/internal/job"
	"github.com/xxxsen/libragent/internal/llm"
	"github.com/xxxsen/libragent/internal/prompt"
	"github.com/xxxsen/libragent/internal/rag"
	"github.com/xxxsen/libragent/internal/repo"
	"github.com/xxxsen/libragent/internal/retriever"
	"github.com/xxxsen/libragent/internal/schedule"
	"github.com/xxxsen/libragent/internal/splitter"
	"github.com/xxxsen/libragent/internal/vectorindex"
)

// app holds every long lived component built from one config.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	cacheRepo  *repo.EmbeddingCacheRepo
	docs       *docstore.Store
	embedder   *embedding.Client
	index      vectorindex.Index
	generators []llm.IGenerator
	selector   *llm.Selector
	processor  *ingest.Processor
	rag        *rag.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	logger := logutil.GetLogger(ctx)
	if cfg.Database.Enabled() {
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.ApplyMigrations(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.db = conn
		a.cacheRepo = repo.NewEmbeddingCacheRepo(conn)
		files, err := filestore.New(cfg.FileStore)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init file store: %w", err)
		}
		a.docs = docstore.New(repo.NewDocumentRepo(conn), files)
	} else {
		logger.Warn("no database configured, document routes are disabled")
	}

	if err := a.initEmbedder(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initGenerators(); err != nil {
		a.Close()
		return nil, err
	}

	sp := splitter.New(splitter.Config{
		ChunkSize:    cfg.Splitter.ChunkSize,
		ChunkOverlap: cfg.Splitter.ChunkOverlap,
		Separators:   cfg.Splitter.Separators,
	})
	var store ingest.DocumentStore
	if a.docs != nil {
		store = a.docs
	}
	a.processor = ingest.NewProcessor(store, sp, a.embedder, a.index, ingest.Options{Concurrency: cfg.Ingest.Concurrency})
	a.rag = rag.New(
		retriever.New(a.embedder, a.index, cfg.RAG.TopK),
		prompt.New(prompt.Options{MaxHistory: cfg.RAG.MaxHistory}),
		a.selector,
		rag.Options{TopK: cfg.RAG.TopK, PreviewChars: cfg.RAG.PreviewChars},
	)
	return a, nil
}

func (a *app) initEmbedder() error {
	ec := a.cfg.Embedding
	e, err := embedding.NewEmbedder(ec.Provider, ec.Model, ec.Data)
	if err != nil {
		return fmt.Errorf("init embedding provider: %w", err)
	}
	if ec.DBCache && a.cacheRepo != nil {
		e = embedcache.WrapDBCacheToEmbedder(e, a.cacheRepo)
	}
	e = embedcache.WrapLruCacheToEmbedder(e, ec.CacheSize, time.Duration(ec.CacheTTLMinutes)*time.Minute)
	a.embedder = embedding.NewClient(e, time.Duration(ec.Timeout)*time.Second)
	return nil
}

func (a *app) initIndex(ctx context.Context) error {
	vc := a.cfg.VectorStore
	args := vc.Data
	// pgvector shares the document database unless it has a dsn of its own.
	if vc.Type == "pgvector" && a.cfg.Database.Enabled() {
		data, _ := args.(map[string]interface{})
		if data == nil {
			data = map[string]interface{}{}
		}
		if dsn, _ := data["dsn"].(string); dsn == "" {
			data["dsn"] = a.cfg.Database.ConnString()
		}
		args = data
	}
	index, err := vectorindex.New(vc.Type, args)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	a.index = index
	name, err := index.EnsureCollection(ctx)
	if err != nil {
		logutil.GetLogger(ctx).Warn("vector collection not ready, retrieval will degrade until it is", zap.Error(err))
		return nil
	}
	logutil.GetLogger(ctx).Info("vector collection ready", zap.String("type", vc.Type), zap.String("collection", name))
	return nil
}

func (a *app) initGenerators() error {
	lc := a.cfg.LLM
	names := make([]string, 0, len(lc.Providers))
	for name := range lc.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pc := lc.Providers[name]
		opts := llm.Options{
			Model:       pc.Model,
			Temperature: llm.DefaultTemperature,
			MaxTokens:   pc.MaxTokens,
			Timeout:     time.Duration(lc.Timeout) * time.Second,
		}
		if pc.Temperature != nil {
			opts.Temperature = *pc.Temperature
		}
		gen, err := llm.NewGenerator(name, opts, pc.Data)
		if err != nil {
			return fmt.Errorf("init llm provider %s: %w", name, err)
		}
		a.generators = append(a.generators, gen)
	}
	selector, err := llm.NewSelector(lc.Default, a.generators...)
	if err != nil {
		return fmt.Errorf("init llm selector: %w", err)
	}
	a.selector = selector
	return nil
}

// scheduler registers the enabled jobs whose collaborators exist.
func (a *app) scheduler() (*schedule.CronScheduler, error) {
	sched := schedule.NewCronScheduler()
	jc := a.cfg.Jobs
	if jc.ReprocessFailed.Enabled && a.docs != nil {
		if err := sched.AddJob(job.NewReprocessFailedJob(a.processor), jc.ReprocessFailed.Spec); err != nil {
			return nil, err
		}
	}
	if jc.EmbeddingCacheClean.Enabled && a.cacheRepo != nil {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.cacheRepo, jc.EmbeddingCacheMaxAge)
		if err := sched.AddJob(cleanup, jc.EmbeddingCacheClean.Spec); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func (a *app) routerDeps() handler.RouterDeps {
	checks := map[string]handler.HealthChecker{
		"embedding":    a.embedder,
		"vector_store": a.index,
	}
	for _, g := range a.generators {
		checks["llm:"+g.Name()] = g
	}
	var library handler.Library
	if a.docs != nil {
		library = a.docs
	}
	return handler.RouterDeps{
		Documents: handler.NewDocumentHandler(a.processor, library),
		Chat:      handler.NewChatHandler(a.rag, a.selector),
		Debug:     handler.NewDebugHandler(checks, a.index),
	}
}

func (a *app) Close() {
	if closer, ok := a.index.(interface{ Close() }); ok {
		closer.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
