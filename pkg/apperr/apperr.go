// Package apperr defines the error taxonomy shared by the store, the chat
// orchestrator and the HTTP layer. Callers classify errors with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input. Nothing was mutated.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing resource or one owned by another user.
	ErrNotFound = errors.New("not found")
	// ErrService marks an unavailable tagger or generator. It is recovered
	// locally and never reaches a client.
	ErrService = errors.New("service unavailable")
	// ErrStorage marks a failed write. No partial state is visible and the
	// operation may be retried.
	ErrStorage = errors.New("storage error")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func Service(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrService, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrService, op, err)
}

func Storage(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrStorage, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
