package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind distinguishes generation failures for user messaging. The HTTP layer
// maps each kind to a friendly retry suggestion; the core itself never
// retries.
type Kind string

const (
	// KindOverload means the model service is saturated or unavailable.
	KindOverload Kind = "overload"
	// KindRateLimit means the caller exceeded its quota.
	KindRateLimit Kind = "rate_limit"
	// KindAuth means the credentials were rejected.
	KindAuth Kind = "auth"
	// KindNotFound means the requested model does not exist.
	KindNotFound Kind = "not_found"
	// KindNetwork means the service could not be reached.
	KindNetwork Kind = "network"
	// KindTimeout means the call exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindUnknown covers everything else.
	KindUnknown Kind = "unknown"
)

// ServiceError is returned when the language model call fails. The kind is
// preserved through the pipeline so the caller can choose user-facing wording.
type ServiceError struct {
	// Kind classifies the failure.
	Kind Kind
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("generation: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// classify maps a provider error to a Kind. The chat model SDKs do not expose
// a common error taxonomy, so classification falls back to status codes and
// well-known substrings in the error text.
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return KindRateLimit
	case strings.Contains(msg, "503") || strings.Contains(msg, "overload") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "capacity"):
		return KindOverload
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key") || strings.Contains(msg, "permission"):
		return KindAuth
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return KindNotFound
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "connection reset"):
		return KindNetwork
	default:
		return KindUnknown
	}
}
