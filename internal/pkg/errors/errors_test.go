package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnavailableKeepsCause(t *testing.T) {
	err := Unavailable("embed", context.DeadlineExceeded)
	require.True(t, IsUnavailable(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsGeneration(err))

	again := Unavailable("retrieve", err)
	require.True(t, IsUnavailable(again))
	require.ErrorIs(t, again, context.DeadlineExceeded)
	require.Nil(t, Unavailable("noop", nil))
}

func TestGenerationWrapsUnavailable(t *testing.T) {
	cause := Unavailable("chat", errors.New("connection refused"))
	err := Generation("answer", cause)
	require.True(t, IsGeneration(err))
	require.True(t, IsUnavailable(err))
}
