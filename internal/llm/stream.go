package llm

import (
	"iter"
	"sync/atomic"

	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

// singleUse guards a stream so that only its first iteration reaches the
// backend.
func singleUse(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", appErr.ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// Collect drains a stream into one string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var out []byte
	for frag, err := range seq {
		if err != nil {
			return string(out), err
		}
		out = append(out, frag...)
	}
	return string(out), nil
}
