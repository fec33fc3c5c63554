package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultDimensions = 1024
	DefaultTimeout    = 60 * time.Second
	healthProbe       = "test"
)

// IEmbedder turns a single text into a vector.
type IEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

type Factory func(model string, args interface{}) (IEmbedder, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewEmbedder(name string, model string, args interface{}) (IEmbedder, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("embedding.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedding provider: %s", name)
	}
	return factory(model, args)
}

// Client is the embedding entry point used by ingestion and retrieval. Every
// failure it returns is classified as ErrBackendUnavailable.
type Client struct {
	embedder IEmbedder
	timeout  time.Duration
	dims     atomic.Int64
}

func NewClient(e IEmbedder, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{embedder: e, timeout: timeout}
	c.dims.Store(DefaultDimensions)
	return c
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, appErr.Unavailable("embed text", err)
	}
	if len(vec) == 0 {
		return nil, appErr.Unavailable("embed text", fmt.Errorf("empty embedding returned"))
	}
	if int64(len(vec)) != c.dims.Load() {
		c.dims.Store(int64(len(vec)))
		logutil.GetLogger(ctx).Debug("embedding dimensions updated",
			zap.String("model", c.embedder.ModelName()), zap.Int("dimensions", len(vec)))
	}
	return vec, nil
}

// EmbedTexts embeds every text with its own backend call, in order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (c *Client) Dimensions() int {
	return int(c.dims.Load())
}

func (c *Client) ModelName() string {
	return c.embedder.ModelName()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Embed(ctx, healthProbe)
	return err
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embedding provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embedding provider config: %w", err)
	}
	return nil
}
