package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"go.uber.org/zap"
)

const defaultOpenAIModel = "gpt-4o-mini"

type openAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// OpenAIGenerator talks to any chat-completions compatible endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	opts   Options
}

func NewOpenAIGenerator(apiKey string, baseURL string, opts Options) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts.withDefaults(defaultOpenAIModel),
	}
}

func (o *OpenAIGenerator) Name() string {
	return "openai"
}

func (o *OpenAIGenerator) Model() string {
	return o.opts.Model
}

func (o *OpenAIGenerator) Generate(ctx context.Context, prompt string, systemPrompt string) (*model.GenerationResult, error) {
	return o.Chat(ctx, promptMessages(prompt, systemPrompt))
}

func (o *OpenAIGenerator) Chat(ctx context.Context, messages []model.Message) (*model.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, false))
	if err != nil {
		return nil, classifyOpenAI("openai chat completion", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, appErr.Generation("openai chat completion", fmt.Errorf("empty response"))
	}
	choice := resp.Choices[0]
	res := &model.GenerationResult{
		Content:               choice.Message.Content,
		Model:                 resp.Model,
		PromptTokens:          intPtr(resp.Usage.PromptTokens),
		CompletionTokens:      intPtr(resp.Usage.CompletionTokens),
		TotalTokens:           intPtr(resp.Usage.TotalTokens),
		GenerationTimeSeconds: elapsedSeconds(start),
		FinishReason:          string(choice.FinishReason),
		Metadata: map[string]interface{}{
			"response_id": resp.ID,
		},
	}
	if res.Model == "" {
		res.Model = o.opts.Model
	}
	if res.FinishReason == "" {
		res.FinishReason = string(openai.FinishReasonStop)
	}
	return res, nil
}

func (o *OpenAIGenerator) Stream(ctx context.Context, prompt string, systemPrompt string) iter.Seq2[string, error] {
	return singleUse(func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		stream, err := o.client.CreateChatCompletionStream(ctx, o.request(promptMessages(prompt, systemPrompt), true))
		if err != nil {
			yield("", classifyOpenAI("openai stream", err))
			return
		}
		defer stream.Close()
		for {
			raw, err := stream.RecvRaw()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", classifyOpenAI("openai stream", err))
				return
			}
			var frame openai.ChatCompletionStreamResponse
			if err := json.Unmarshal(raw, &frame); err != nil {
				logutil.GetLogger(ctx).Debug("skip malformed stream frame", zap.Error(err))
				continue
			}
			if len(frame.Choices) == 0 {
				continue
			}
			if text := frame.Choices[0].Delta.Content; text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	})
}

func (o *OpenAIGenerator) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := o.client.ListModels(ctx); err != nil {
		return appErr.Unavailable("openai health", err)
	}
	return nil
}

func (o *OpenAIGenerator) request(messages []model.Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       o.opts.Model,
		Messages:    msgs,
		Temperature: float32(o.opts.Temperature),
		MaxTokens:   o.opts.MaxTokens,
		Stream:      stream,
	}
}

// classifyOpenAI maps responses the server produced to generation failures
// and everything else to an unavailable backend.
func classifyOpenAI(op string, err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
		return appErr.Generation(op, err)
	}
	return appErr.Unavailable(op, err)
}

func createOpenAIFactory(opts Options, args interface{}) (IGenerator, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}
	return NewOpenAIGenerator(strings.TrimSpace(cfg.APIKey), strings.TrimSpace(cfg.BaseURL), opts), nil
}

func init() {
	Register("openai", createOpenAIFactory)
}
