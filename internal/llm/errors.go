package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

const maxErrorBody = 512

// errorFromBody builds a ProviderError from a non-2xx response body,
// preferring the provider's own error message when the body is JSON.
func errorFromBody(provider string, status int, body []byte, message string) *ProviderError {
	if message == "" {
		message = strings.TrimSpace(string(body))
		if len(message) > maxErrorBody {
			message = message[:maxErrorBody] + "..."
		}
	}
	return &ProviderError{Provider: provider, Code: status, Message: message}
}

// retryableStatus are HTTP codes after which another provider may succeed.
var retryableStatus = map[int]bool{401: true, 403: true, 429: true, 500: true, 502: true, 503: true, 504: true, 529: true}

// IsRetryable reports whether err suggests trying the next model.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && retryableStatus[pe.Code] {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"overloaded", "rate limit", "capacity", "timeout"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
