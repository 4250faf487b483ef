// Package ai defines the external generation and embedding collaborators.
// The engine only sees these interfaces; wire formats stay here.
package ai

import (
	"context"
	"errors"
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces a reply for a conversation context. Implementations
// must respect ctx deadlines and cancellation.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Embedder converts text into a vector. Implementations must respect ctx.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TransientError marks a failure worth retrying (network, timeout, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix (malformed
// response, rejected request).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is retryable. Context deadline errors
// count as transient: a timeout is treated identically to failure.
func IsTransient(err error) bool {
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
