package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/libragent/internal/model"
)

const (
	DefaultMaxHistory = 6

	ContextAck = "I have read the documents above. Please ask your question."

	systemTemplate = `You are a professional document analysis assistant. Your task is to answer the user's question using the supplied document content.

Rules:
1. Answer only from the provided document content and never invent information.
2. If the documents do not contain the answer, say clearly that the answer was not found in the provided documents.
3. Cite your sources by document name using the format [Source: document name].
4. Keep the answer concise and accurate.
5. Answer in the same language as the question.

Current time: %s
`
	contextTemplate = `The following document content is relevant to the question:

%s
---
`
	timeLayout = "2006-01-02 15:04"
)

type Options struct {
	MaxHistory int
	Now        func() time.Time
}

// Assembler builds the message list sent to a generation backend. It holds
// no mutable state and is safe for concurrent use.
type Assembler struct {
	maxHistory int
	now        func() time.Time
}

func New(opts Options) *Assembler {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{maxHistory: opts.MaxHistory, now: opts.Now}
}

// Assemble orders messages as system, optional context and acknowledgment,
// the most recent history, then the question.
func (a *Assembler) Assemble(question string, matches []model.RetrievalMatch, history []model.Message) []model.Message {
	msgs := make([]model.Message, 0, 4+a.maxHistory)
	msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: a.SystemPrompt()})
	if len(matches) > 0 {
		msgs = append(msgs,
			model.Message{Role: model.RoleUser, Content: BuildContext(matches)},
			model.Message{Role: model.RoleAssistant, Content: ContextAck},
		)
	}
	if len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: question})
	return msgs
}

func (a *Assembler) SystemPrompt() string {
	return fmt.Sprintf(systemTemplate, a.now().Format(timeLayout))
}

func BuildContext(matches []model.RetrievalMatch) string {
	if len(matches) == 0 {
		return ""
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m.DocumentName
		if name == "" {
			name = fmt.Sprintf("Document %d", m.DocumentID)
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s\n", name, m.Content))
	}
	return fmt.Sprintf(contextTemplate, strings.Join(parts, "\n"))
}
