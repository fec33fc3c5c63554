package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/libragent/internal/config"
	"github.com/xxxsen/libragent/internal/handler"
	"github.com/xxxsen/libragent/internal/ingest"
	"github.com/xxxsen/libragent/internal/middleware"
	"github.com/xxxsen/libragent/internal/parser"
	"github.com/xxxsen/libragent/internal/rag"
	"github.com/xxxsen/libragent/internal/splitter"
)

const apiPrefix = "/api/v1"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "libragent",
		Short:        "document library question answering",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newProcessCmd(&configPath),
		newAskCmd(&configPath),
		newSplitCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
	return cfg, nil
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	logutil.GetLogger(ctx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.Bool("database", cfg.Database.Enabled()),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("llm_default", cfg.LLM.Default),
	)

	sched, err := a.scheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()
	logutil.GetLogger(ctx).Info("scheduler started", zap.Strings("jobs", sched.Jobs()))

	deps := a.routerDeps()
	deps.ChatLimit = middleware.RateLimit(time.Duration(cfg.RAG.RateLimitMs) * time.Millisecond)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		apiPrefix,
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{apiPrefix + handler.StreamPath})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func newProcessCmd(configPath *string) *cobra.Command {
	var (
		ids     []int64
		file    string
		groupID int64
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "ingest stored documents by id, or import and ingest a local file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 && file == "" {
				return fmt.Errorf("--id or --file is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if file != "" {
				if a.docs == nil {
					return fmt.Errorf("importing a file needs a database")
				}
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				doc, err := a.docs.Import(ctx, filepath.Base(file), groupID, data)
				if err != nil {
					return err
				}
				ids = append(ids, doc.ID)
			}
			return printJSON(cmd, a.processor.ProcessBatch(ctx, ids))
		},
	}
	cmd.Flags().Int64SliceVar(&ids, "id", nil, "document id, repeatable")
	cmd.Flags().StringVar(&file, "file", "", "local file to import first")
	cmd.Flags().Int64Var(&groupID, "group", 0, "group id for an imported file")
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var (
		req    rag.Request
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "ask a question against the indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Question == "" {
				return fmt.Errorf("--question is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if !stream {
				result, err := a.rag.Query(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			for ev, err := range a.rag.QueryStream(ctx, req) {
				if err != nil {
					return err
				}
				switch ev.Type {
				case rag.EventToken:
					fmt.Fprint(out, ev.Token)
				case rag.EventSources:
					fmt.Fprintln(out)
					for _, s := range ev.Sources {
						fmt.Fprintf(out, "- %s #%d (%.3f)\n", s.DocumentName, s.ChunkIndex, s.Score)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Question, "question", "", "question to ask")
	cmd.Flags().Int64Var(&req.GroupID, "group", 0, "restrict retrieval to a group, 0 for all")
	cmd.Flags().Int64SliceVar(&req.DocumentIDs, "doc", nil, "restrict retrieval to documents, repeatable")
	cmd.Flags().IntVar(&req.TopK, "top-k", 0, "number of chunks to retrieve")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "llm provider override")
	cmd.Flags().BoolVar(&stream, "stream", false, "print tokens as they arrive")
	return cmd
}

func newSplitCmd(configPath *string) *cobra.Command {
	var (
		file      string
		maxChunks int
		size      int
		overlap   int
	)
	cmd := &cobra.Command{
		Use:   "split",
		Short: "preview how a local file is chunked",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			spCfg := splitter.Config{ChunkSize: size, ChunkOverlap: overlap}
			if *configPath != "" {
				cfg, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				spCfg = splitter.Config{
					ChunkSize:    cfg.Splitter.ChunkSize,
					ChunkOverlap: cfg.Splitter.ChunkOverlap,
					Separators:   cfg.Splitter.Separators,
				}
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			doc, err := parser.Parse(data, parser.FileTypeOf(file))
			if err != nil {
				return err
			}
			p := ingest.NewProcessor(nil, splitter.New(spCfg), nil, nil, ingest.Options{})
			return printJSON(cmd, gin.H{
				"title":      doc.Title,
				"word_count": doc.WordCount,
				"chunks":     p.Preview(doc.Content, maxChunks),
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "local file to split")
	cmd.Flags().IntVar(&maxChunks, "max", ingest.DefaultPreviewMax, "max chunks to print")
	cmd.Flags().IntVar(&size, "chunk-size", splitter.DefaultChunkSize, "chunk size in characters")
	cmd.Flags().IntVar(&overlap, "chunk-overlap", splitter.DefaultChunkOverlap, "chunk overlap in characters")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
