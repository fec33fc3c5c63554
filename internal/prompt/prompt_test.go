package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xxxsen/libragent/internal/model"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC)
}

func roles(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestAssembleWithMatch(t *testing.T) {
	a := New(Options{Now: fixedNow})
	msgs := a.Assemble("When does it open?", []model.RetrievalMatch{
		{DocumentID: 3, DocumentName: "hours.txt", Content: "Opens at nine."},
	}, nil)
	require.Equal(t, []string{"system", "user", "assistant", "user"}, roles(msgs))
	require.Contains(t, msgs[0].Content, "Current time: 2026-03-04 05:06")
	require.Contains(t, msgs[0].Content, "not found in the provided documents")
	require.Contains(t, msgs[1].Content, "[hours.txt]\nOpens at nine.")
	require.Equal(t, ContextAck, msgs[2].Content)
	require.Equal(t, "When does it open?", msgs[3].Content)
}

func TestAssembleWithoutMatches(t *testing.T) {
	a := New(Options{Now: fixedNow})
	msgs := a.Assemble("hi", nil, []model.Message{{Role: model.RoleUser, Content: "earlier"}})
	require.Equal(t, []string{"system", "user", "user"}, roles(msgs))
	require.Equal(t, "earlier", msgs[1].Content)
}

func TestAssembleKeepsLastHistory(t *testing.T) {
	var history []model.Message
	for i := 0; i < 10; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		history = append(history, model.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	msgs := New(Options{Now: fixedNow}).Assemble("q", nil, history)
	require.Len(t, msgs, 1+DefaultMaxHistory+1)
	require.Equal(t, "turn 4", msgs[1].Content)
	require.Equal(t, "turn 9", msgs[DefaultMaxHistory].Content)
	require.Equal(t, "q", msgs[len(msgs)-1].Content)
}

func TestBuildContext(t *testing.T) {
	require.Empty(t, BuildContext(nil))
	ctx := BuildContext([]model.RetrievalMatch{
		{DocumentID: 1, Content: "alpha"},
		{DocumentID: 2, DocumentName: "b.md", Content: "beta"},
	})
	require.True(t, strings.HasPrefix(ctx, "The following document content"))
	require.Contains(t, ctx, "[Document 1]\nalpha\n\n[b.md]\nbeta")
	require.True(t, strings.HasSuffix(ctx, "---\n"))
}
