package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "gpt-oss-20b"
	maxStreamLine      = 1 << 20
)

type ollamaConfig struct {
	Host string `json:"host"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount *int          `json:"prompt_eval_count"`
	EvalCount       *int          `json:"eval_count"`
	TotalDuration   int64         `json:"total_duration"`
	LoadDuration    int64         `json:"load_duration"`
	EvalDuration    int64         `json:"eval_duration"`
	Error           string        `json:"error"`
}

// OllamaGenerator drives a local model through ollama's chat API, which has a
// native system role.
type OllamaGenerator struct {
	host   string
	opts   Options
	client *http.Client
}

func NewOllamaGenerator(host string, opts Options, client *http.Client) *OllamaGenerator {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = defaultOllamaHost
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaGenerator{host: host, opts: opts.withDefaults(defaultOllamaModel), client: client}
}

func (o *OllamaGenerator) Name() string {
	return "ollama"
}

func (o *OllamaGenerator) Model() string {
	return o.opts.Model
}

func (o *OllamaGenerator) Generate(ctx context.Context, prompt string, systemPrompt string) (*model.GenerationResult, error) {
	return o.Chat(ctx, promptMessages(prompt, systemPrompt))
}

func (o *OllamaGenerator) Chat(ctx context.Context, messages []model.Message) (*model.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := o.post(ctx, messages, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, appErr.Generation("decode ollama response", err)
	}
	if out.Error != "" {
		return nil, appErr.Generation("ollama chat", fmt.Errorf("%s", out.Error))
	}
	if out.Message.Content == "" {
		return nil, appErr.Generation("ollama chat", fmt.Errorf("empty response"))
	}
	res := &model.GenerationResult{
		Content:               out.Message.Content,
		Model:                 out.Model,
		PromptTokens:          out.PromptEvalCount,
		CompletionTokens:      out.EvalCount,
		GenerationTimeSeconds: elapsedSeconds(start),
		FinishReason:          out.DoneReason,
		Metadata: map[string]interface{}{
			"ollama_done":    out.Done,
			"total_duration": out.TotalDuration,
			"load_duration":  out.LoadDuration,
			"eval_duration":  out.EvalDuration,
		},
	}
	if res.Model == "" {
		res.Model = o.opts.Model
	}
	if res.FinishReason == "" {
		res.FinishReason = "stop"
	}
	if out.PromptEvalCount != nil && out.EvalCount != nil {
		res.TotalTokens = intPtr(*out.PromptEvalCount + *out.EvalCount)
	}
	return res, nil
}

func (o *OllamaGenerator) Stream(ctx context.Context, prompt string, systemPrompt string) iter.Seq2[string, error] {
	return singleUse(func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		resp, err := o.post(ctx, promptMessages(prompt, systemPrompt), true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame ollamaChatResponse
			if err := json.Unmarshal(line, &frame); err != nil {
				logutil.GetLogger(ctx).Debug("skip malformed ollama frame", zap.Error(err))
				continue
			}
			if frame.Error != "" {
				yield("", appErr.Generation("ollama stream", fmt.Errorf("%s", frame.Error)))
				return
			}
			if frame.Message.Content != "" {
				if !yield(frame.Message.Content, nil) {
					return
				}
			}
			if frame.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", appErr.Unavailable("read ollama stream", err))
		}
	})
}

func (o *OllamaGenerator) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/", nil)
	if err != nil {
		return fmt.Errorf("create ollama health request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return appErr.Unavailable("ollama health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return appErr.Unavailable("ollama health", fmt.Errorf("status %s", resp.Status))
	}
	return nil
}

func (o *OllamaGenerator) post(ctx context.Context, messages []model.Message, stream bool) (*http.Response, error) {
	payload := ollamaChatRequest{
		Model:    o.opts.Model,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   stream,
		Options:  ollamaOptions{Temperature: o.opts.Temperature, NumPredict: o.opts.MaxTokens},
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, ollamaMessage(m))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, appErr.Unavailable("call ollama chat API", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, appErr.Generation("ollama chat API", fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(data))))
	}
	return resp, nil
}

func createOllamaFactory(opts Options, args interface{}) (IGenerator, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return NewOllamaGenerator(cfg.Host, opts, nil), nil
}

func init() {
	Register("ollama", createOllamaFactory)
}
