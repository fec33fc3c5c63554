package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/xxxsen/libragent/internal/model"
)

const (
	DefaultTemperature = 0.3
	DefaultTimeout     = 120 * time.Second
	healthTimeout      = 10 * time.Second
)

// IGenerator is the uniform contract over completion backends. Role
// translation to each wire format happens inside the implementation.
type IGenerator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt string, systemPrompt string) (*model.GenerationResult, error)
	Chat(ctx context.Context, messages []model.Message) (*model.GenerationResult, error)
	// Stream is lazy: nothing is sent until the sequence is ranged over.
	// Breaking out of the loop releases the connection. The sequence can be
	// consumed once; later iterations yield ErrStreamConsumed.
	Stream(ctx context.Context, prompt string, systemPrompt string) iter.Seq2[string, error]
	HealthCheck(ctx context.Context) error
}

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func (o Options) withDefaults(defaultModel string) Options {
	if strings.TrimSpace(o.Model) == "" {
		o.Model = defaultModel
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

type Factory func(opts Options, args interface{}) (IGenerator, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewGenerator(name string, opts Options, args interface{}) (IGenerator, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("llm provider name is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
	return factory(opts, args)
}

func promptMessages(prompt string, systemPrompt string) []model.Message {
	msgs := make([]model.Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: systemPrompt})
	}
	return append(msgs, model.Message{Role: model.RoleUser, Content: prompt})
}

func intPtr(v int) *int {
	return &v
}

func elapsedSeconds(start time.Time) *float64 {
	s := time.Since(start).Seconds()
	return &s
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode llm provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode llm provider config: %w", err)
	}
	return nil
}
