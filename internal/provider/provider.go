// Package provider defines the completion collaborator the orchestrator
// dispatches prompts to, its error taxonomy, and a gRPC-backed implementation.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

// Usage reports token accounting for a completion.
type Usage struct {
	OutputTokens int `json:"outputTokens"`
}

// Completion is the text returned by a provider.
type Completion struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, class domain.RequestClass) (Completion, error)
	Name() string
}

// NetworkError reports a transport failure reaching the provider.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthError reports a missing or rejected credential.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Message
}

// RateLimitError reports upstream throttling. RetryAfter is zero when the
// provider gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "rate limit exceeded: " + e.Message
}

// ServerError reports a non-success status from the provider, expressed as
// the equivalent HTTP status code.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Status, e.Message)
}

// ErrEmptyCompletion is returned when the provider answered with no content.
var ErrEmptyCompletion = errors.New("provider returned empty completion")

// Unconfigured is used when no provider address is set. Every call fails
// with an AuthError so callers are told to configure credentials.
type Unconfigured struct{}

var _ Completer = Unconfigured{}

// Complete always fails.
func (Unconfigured) Complete(context.Context, string, domain.RequestClass) (Completion, error) {
	return Completion{}, &AuthError{Message: "provider not configured"}
}

// Name returns "unconfigured".
func (Unconfigured) Name() string {
	return "unconfigured"
}
