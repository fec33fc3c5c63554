package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	geminiTopP         = 0.95
	geminiTopK         = 40

	geminiRoleUser  = "user"
	geminiRoleModel = "model"

	systemInstructionPrefix = "[System Instructions]\n"
	systemInstructionAck    = "Understood. I will follow these instructions."
)

type geminiConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// GeminiGenerator uses the Gemini API, which has no system role in the
// content list; system messages are sent as a user turn followed by a fixed
// model acknowledgment.
type GeminiGenerator struct {
	client *genai.Client
	opts   Options
}

func NewGeminiGenerator(ctx context.Context, apiKey string, baseURL string, opts Options) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
		HTTPClient:  newGeminiHTTPClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, opts: opts.withDefaults(defaultGeminiModel)}, nil
}

func (g *GeminiGenerator) Name() string {
	return "gemini"
}

func (g *GeminiGenerator) Model() string {
	return g.opts.Model
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, systemPrompt string) (*model.GenerationResult, error) {
	return g.Chat(ctx, promptMessages(prompt, systemPrompt))
}

func (g *GeminiGenerator) Chat(ctx context.Context, messages []model.Message) (*model.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, toGeminiContents(messages), g.config())
	if err != nil {
		return nil, classifyGemini("gemini generate content", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, appErr.Generation("gemini generate content", fmt.Errorf("no candidates returned"))
	}
	content := resp.Text()
	if content == "" {
		return nil, appErr.Generation("gemini generate content", fmt.Errorf("empty response"))
	}
	cand := resp.Candidates[0]
	res := &model.GenerationResult{
		Content:               content,
		Model:                 g.opts.Model,
		GenerationTimeSeconds: elapsedSeconds(start),
		FinishReason:          string(cand.FinishReason),
		Metadata: map[string]interface{}{
			"safety_ratings": cand.SafetyRatings,
		},
	}
	if res.FinishReason == "" {
		res.FinishReason = string(genai.FinishReasonStop)
	}
	if u := resp.UsageMetadata; u != nil {
		res.PromptTokens = intPtr(int(u.PromptTokenCount))
		res.CompletionTokens = intPtr(int(u.CandidatesTokenCount))
		res.TotalTokens = intPtr(int(u.TotalTokenCount))
	}
	return res, nil
}

func (g *GeminiGenerator) Stream(ctx context.Context, prompt string, systemPrompt string) iter.Seq2[string, error] {
	return singleUse(func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
		contents := toGeminiContents(promptMessages(prompt, systemPrompt))
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.opts.Model, contents, g.config()) {
			if err != nil {
				yield("", classifyGemini("gemini stream", err))
				return
			}
			if resp == nil || len(resp.Candidates) == 0 {
				continue
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	})
}

func (g *GeminiGenerator) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := g.client.Models.Get(ctx, g.opts.Model, nil); err != nil {
		return appErr.Unavailable("gemini health", err)
	}
	return nil
}

func (g *GeminiGenerator) config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.opts.Temperature)),
		TopP:        genai.Ptr(float32(geminiTopP)),
		TopK:        genai.Ptr(float32(geminiTopK)),
	}
	if g.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.opts.MaxTokens)
	}
	return cfg
}

func toGeminiContents(messages []model.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages)+1)
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			contents = append(contents,
				geminiText(geminiRoleUser, systemInstructionPrefix+m.Content),
				geminiText(geminiRoleModel, systemInstructionAck),
			)
		case model.RoleAssistant:
			contents = append(contents, geminiText(geminiRoleModel, m.Content))
		default:
			contents = append(contents, geminiText(geminiRoleUser, m.Content))
		}
	}
	return contents
}

func geminiText(role string, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}

// classifyGemini separates rejected requests from transport failures.
func classifyGemini(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return appErr.Generation(op, err)
	}
	return appErr.Unavailable(op, err)
}

func createGeminiFactory(opts Options, args interface{}) (IGenerator, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api_key is required")
	}
	return NewGeminiGenerator(context.Background(), strings.TrimSpace(cfg.APIKey), strings.TrimSpace(cfg.BaseURL), opts)
}

func init() {
	Register("gemini", createGeminiFactory)
}
