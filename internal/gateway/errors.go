package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrNoClient is returned by calls on a provider built without a
	// backend client. New never builds one; NewLangChainProvider allows it
	// so HealthCheck can report the provider unavailable.
	ErrNoClient = errors.New("no backend client")

	// ErrBackendPanic wraps a panic recovered from a backend call.
	ErrBackendPanic = errors.New("backend panicked")
)

// ConfigError is returned when a provider cannot be constructed. Code is
// CodeImport or CodeAuth.
type ConfigError struct {
	Code     ErrorCode
	Provider string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	rateLimitPhrases = []string{"rate limit", "ratelimit", "rate_limit", "too many requests"}
	authWords        = map[string]bool{
		"401": true, "403": true,
		"auth": true, "unauthorized": true, "unauthenticated": true,
		"authentication": true, "forbidden": true,
	}
	timeoutPhrases = []string{"timeout", "timed out", "deadline exceeded"}
)

// Classify maps a backend error to an error code and the health status the
// provider should move to. Rate limits are checked before auth, auth before
// timeouts.
func Classify(err error) (ErrorCode, Status) {
	if err == nil {
		return "", StatusHealthy
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, StatusDegraded
	}
	if errors.Is(err, ErrBackendPanic) {
		return CodeProvider, StatusDegraded
	}

	msg := strings.ToLower(err.Error())
	words := strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	switch {
	case hasWord(words, "429") || containsAny(msg, rateLimitPhrases):
		return CodeRateLimit, StatusDegraded
	case hasAnyWord(words, authWords):
		return CodeAuth, StatusUnavailable
	case containsAny(msg, timeoutPhrases):
		return CodeTimeout, StatusDegraded
	default:
		return CodeProvider, StatusDegraded
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func hasWord(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func hasAnyWord(words []string, set map[string]bool) bool {
	for _, x := range words {
		if set[x] {
			return true
		}
	}
	return false
}
