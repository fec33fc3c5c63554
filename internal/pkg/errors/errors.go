package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid")
	ErrInternal           = errors.New("internal")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrGeneration         = errors.New("generation failed")
	ErrProcessing         = errors.New("processing failed")
	ErrStreamConsumed     = errors.New("stream already consumed")
)

// Unavailable marks err as a transport level failure of a remote backend.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

// Generation marks err as a rejected or failed completion request.
func Generation(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGeneration) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGeneration, err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

func IsGeneration(err error) bool {
	return errors.Is(err, ErrGeneration)
}
