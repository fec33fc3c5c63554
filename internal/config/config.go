package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvDatabaseDSN  = "LIBRAGENT_DATABASE_DSN"
)

type Config struct {
	Port        int               `json:"port"`
	LogConfig   logger.LogConfig  `json:"log_config"`
	Database    DatabaseConfig    `json:"database"`
	FileStore   FileStoreConfig   `json:"file_store"`
	Splitter    SplitterConfig    `json:"splitter"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	LLM         LLMConfig         `json:"llm"`
	RAG         RAGConfig         `json:"rag"`
	Ingest      IngestConfig      `json:"ingest"`
	Jobs        JobsConfig        `json:"jobs"`
	CORSOrigins []string          `json:"cors_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// Enabled reports whether a postgres connection is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

// ConnString returns the DSN, building a key/value one from the discrete
// fields when no DSN is set.
func (c DatabaseConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslmode)
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type SplitterConfig struct {
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
	Separators   []string `json:"separators"`
}

type EmbeddingConfig struct {
	Provider        string      `json:"provider"`
	Model           string      `json:"model"`
	Timeout         int64       `json:"timeout"`
	CacheSize       int         `json:"cache_size"`
	CacheTTLMinutes int64       `json:"cache_ttl_minutes"`
	DBCache         bool        `json:"db_cache"`
	Data            interface{} `json:"data"`
}

type VectorStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type LLMConfig struct {
	Default   string                       `json:"default"`
	Timeout   int64                        `json:"timeout"`
	Providers map[string]LLMProviderConfig `json:"providers"`
}

type LLMProviderConfig struct {
	Model       string                 `json:"model"`
	Temperature *float64               `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
	Data        map[string]interface{} `json:"data"`
}

type RAGConfig struct {
	TopK         int `json:"top_k"`
	PreviewChars int `json:"preview_chars"`
	MaxHistory   int `json:"max_history"`
	// RateLimitMs is the minimum gap between chat requests from one client
	// on one route. Zero disables it.
	RateLimitMs int `json:"rate_limit_ms"`
}

type IngestConfig struct {
	Concurrency int `json:"concurrency"`
}

type JobsConfig struct {
	ReprocessFailed      JobConfig `json:"reprocess_failed"`
	EmbeddingCacheClean  JobConfig `json:"embedding_cache_cleanup"`
	EmbeddingCacheMaxAge int       `json:"embedding_cache_max_age_days"`
}

type JobConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec"`
}

// Load reads a .json or .yaml/.yml config file. A .env file in the working
// directory is loaded first so that secrets can stay out of the config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	var cfg Config
	if err := decode(raw, filepath.Ext(path), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode handles yaml by converting it into json first, so a single set of
// json tags covers both formats.
func decode(raw []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var tree interface{}
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return err
		}
		data, err := json.Marshal(tree)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, cfg)
	case ".json", "":
		return json.Unmarshal(raw, cfg)
	default:
		return fmt.Errorf("unsupported config format: %s", ext)
	}
}

func applyEnv(cfg *Config) {
	if dsn := os.Getenv(EnvDatabaseDSN); dsn != "" {
		cfg.Database.DSN = dsn
	}
	setKey := func(provider, env string) {
		key := os.Getenv(env)
		if key == "" {
			return
		}
		if strings.EqualFold(cfg.Embedding.Provider, provider) {
			cfg.Embedding.Data = withKey(cfg.Embedding.Data, key)
		}
		p, ok := cfg.LLM.Providers[provider]
		if !ok {
			return
		}
		if p.Data == nil {
			p.Data = map[string]interface{}{}
		}
		if s, _ := p.Data["api_key"].(string); s == "" {
			p.Data["api_key"] = key
		}
		cfg.LLM.Providers[provider] = p
	}
	setKey("gemini", EnvGeminiAPIKey)
	setKey("openai", EnvOpenAIAPIKey)
}

func withKey(data interface{}, key string) interface{} {
	m, ok := data.(map[string]interface{})
	if !ok || m == nil {
		m = map[string]interface{}{}
	}
	if s, _ := m["api_key"].(string); s == "" {
		m["api_key"] = key
	}
	return m
}

func applyDefaults(cfg *Config) {
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.Splitter.ChunkSize == 0 {
		cfg.Splitter.ChunkSize = 500
	}
	if cfg.Splitter.ChunkOverlap == 0 {
		cfg.Splitter.ChunkOverlap = 50
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "chroma"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120
	}
	if len(cfg.LLM.Providers) == 0 {
		cfg.LLM.Providers = map[string]LLMProviderConfig{"ollama": {}}
	}
	if cfg.LLM.Default == "" {
		if _, ok := cfg.LLM.Providers["ollama"]; ok {
			cfg.LLM.Default = "ollama"
		}
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.PreviewChars == 0 {
		cfg.RAG.PreviewChars = 200
	}
	if cfg.RAG.MaxHistory == 0 {
		cfg.RAG.MaxHistory = 6
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Jobs.ReprocessFailed.Spec == "" {
		cfg.Jobs.ReprocessFailed.Spec = "*/30 * * * *"
	}
	if cfg.Jobs.EmbeddingCacheClean.Spec == "" {
		cfg.Jobs.EmbeddingCacheClean.Spec = "0 3 * * *"
	}
	if cfg.Jobs.EmbeddingCacheMaxAge == 0 {
		cfg.Jobs.EmbeddingCacheMaxAge = 30
	}
}

func validate(cfg *Config) error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Splitter.ChunkSize < 0 || cfg.Splitter.ChunkOverlap < 0 {
		return fmt.Errorf("splitter.chunk_size and splitter.chunk_overlap must not be negative")
	}
	if cfg.RAG.RateLimitMs < 0 {
		return fmt.Errorf("rag.rate_limit_ms must not be negative")
	}
	if cfg.Embedding.DBCache && !cfg.Database.Enabled() {
		return fmt.Errorf("database is required when embedding.db_cache is enabled")
	}
	if cfg.LLM.Default != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.Default]; !ok {
			return fmt.Errorf("llm.default %s is not in llm.providers", cfg.LLM.Default)
		}
	}
	switch cfg.VectorStore.Type {
	case "chroma", "pgvector", "memory":
	default:
		return fmt.Errorf("vector_store.type must be chroma, pgvector or memory")
	}
	return nil
}
