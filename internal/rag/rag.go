package rag

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/libragent/internal/llm"
	"github.com/xxxsen/libragent/internal/model"
	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultTopK         = 5
	DefaultPreviewChars = 200

	EventToken   = "token"
	EventSources = "sources"
)

type Retriever interface {
	RetrieveForDocuments(ctx context.Context, query string, documentIDs []int64, topK int) ([]model.RetrievalMatch, error)
	RetrieveForGroup(ctx context.Context, query string, groupID int64, topK int) ([]model.RetrievalMatch, error)
}

type Assembler interface {
	Assemble(question string, matches []model.RetrievalMatch, history []model.Message) []model.Message
}

type Generators interface {
	Get(name string) (llm.IGenerator, error)
}

type Options struct {
	TopK         int
	PreviewChars int
}

// Request scopes a question to a group, or to an explicit document set when
// DocumentIDs is not empty.
type Request struct {
	Question    string          `json:"question"`
	GroupID     int64           `json:"group_id"`
	DocumentIDs []int64         `json:"document_ids,omitempty"`
	History     []model.Message `json:"history,omitempty"`
	TopK        int             `json:"top_k,omitempty"`
	Provider    string          `json:"provider,omitempty"`
}

// StreamEvent is either a text fragment or the terminal list of sources.
type StreamEvent struct {
	Type    string         `json:"type"`
	Token   string         `json:"token,omitempty"`
	Sources []model.Source `json:"sources,omitempty"`
}

type Orchestrator struct {
	retriever  Retriever
	assembler  Assembler
	generators Generators
	opts       Options
}

func New(retriever Retriever, assembler Assembler, generators Generators, opts Options) *Orchestrator {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = DefaultPreviewChars
	}
	return &Orchestrator{retriever: retriever, assembler: assembler, generators: generators, opts: opts}
}

func (o *Orchestrator) Query(ctx context.Context, req Request) (*model.RAGResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question is empty: %w", appErr.ErrInvalid)
	}
	gen, err := o.generators.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	matches, err := o.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	messages := o.assembler.Assemble(req.Question, matches, req.History)
	out, err := gen.Chat(ctx, messages)
	if err != nil {
		logutil.GetLogger(ctx).Error("generate answer failed",
			zap.String("provider", gen.Name()), zap.Error(err))
		return nil, appErr.Generation("rag query", err)
	}
	return &model.RAGResult{
		Answer:                out.Content,
		Sources:               o.sources(matches),
		Model:                 out.Model,
		Confidence:            confidence(matches),
		GenerationTimeSeconds: out.GenerationTimeSeconds,
		RetrievalCount:        len(matches),
		Metadata: map[string]interface{}{
			"prompt_tokens":     out.PromptTokens,
			"completion_tokens": out.CompletionTokens,
			"total_tokens":      out.TotalTokens,
			"provider":          gen.Name(),
		},
	}, nil
}

// QueryStream retrieves and assembles like Query, then yields the generated
// text as token events followed by exactly one sources event. Nothing runs
// until the sequence is consumed.
func (o *Orchestrator) QueryStream(ctx context.Context, req Request) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		if strings.TrimSpace(req.Question) == "" {
			yield(StreamEvent{}, fmt.Errorf("question is empty: %w", appErr.ErrInvalid))
			return
		}
		gen, err := o.generators.Get(req.Provider)
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}
		matches, err := o.retrieve(ctx, req)
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}
		prompt, system := flatten(o.assembler.Assemble(req.Question, matches, req.History))
		for frag, err := range gen.Stream(ctx, prompt, system) {
			if err != nil {
				logutil.GetLogger(ctx).Error("stream answer failed",
					zap.String("provider", gen.Name()), zap.Error(err))
				yield(StreamEvent{}, appErr.Generation("rag stream", err))
				return
			}
			if !yield(StreamEvent{Type: EventToken, Token: frag}, nil) {
				return
			}
		}
		yield(StreamEvent{Type: EventSources, Sources: o.sources(matches)}, nil)
	}
}

// retrieve absorbs an unavailable embedding or index backend so the question
// is answered without context. Any other error is returned.
func (o *Orchestrator) retrieve(ctx context.Context, req Request) ([]model.RetrievalMatch, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = o.opts.TopK
	}
	var (
		matches []model.RetrievalMatch
		err     error
	)
	if len(req.DocumentIDs) > 0 {
		matches, err = o.retriever.RetrieveForDocuments(ctx, req.Question, req.DocumentIDs, topK)
	} else {
		matches, err = o.retriever.RetrieveForGroup(ctx, req.Question, req.GroupID, topK)
	}
	if err == nil {
		return matches, nil
	}
	if appErr.IsUnavailable(err) {
		logutil.GetLogger(ctx).Warn("retrieval unavailable, answer without context", zap.Error(err))
		return nil, nil
	}
	logutil.GetLogger(ctx).Error("retrieval failed", zap.Error(err))
	return nil, err
}

func (o *Orchestrator) sources(matches []model.RetrievalMatch) []model.Source {
	out := make([]model.Source, 0, len(matches))
	for _, m := range matches {
		out = append(out, model.Source{
			DocumentID:   m.DocumentID,
			DocumentName: m.DocumentName,
			ChunkIndex:   m.ChunkIndex,
			Content:      Preview(m.Content, o.opts.PreviewChars),
			Score:        round3(m.Score),
		})
	}
	return out
}

// Preview cuts content to limit runes and marks the cut with "...".
func Preview(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}

func confidence(matches []model.RetrievalMatch) float64 {
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		sum += m.Score
	}
	return round3(sum / float64(len(matches)))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// flatten turns an assembled conversation into the prompt/system pair used by
// streaming backends: user turns joined by newlines, first system turn kept.
func flatten(messages []model.Message) (string, string) {
	var users []string
	system := ""
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser:
			users = append(users, m.Content)
		case model.RoleSystem:
			if system == "" {
				system = m.Content
			}
		}
	}
	return strings.Join(users, "\n"), system
}
