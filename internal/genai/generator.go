package genai

import (
	"context"
	"fmt"
)

// Generator is the text-generation capability every "thinking" pipeline
// stage routes through.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProviderError marks failures of the generation provider itself (timeouts,
// rate limits, auth) so callers can tell them apart from application errors.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("generation provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("generation provider error: %s", e.Message)
}

// Retryable reports whether the failure is worth retrying: transport
// errors, rate limiting and server-side failures are; auth and bad-request
// responses are not.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
