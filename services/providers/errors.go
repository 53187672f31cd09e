package providers

import (
	"errors"

	"github.com/upb/llm-proxy/services"
)

// ProviderError represents an error raised by the provider-protocol
// layer. The retry policy consumes the Retryable flag; everything else
// is context for the caller.
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the proxy error code this failure maps to
	Code services.ErrorCode

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code, when applicable
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, code services.ErrorCode, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is a retryable provider error
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// classifyStatus maps an HTTP status from a provider onto the error
// taxonomy. Rate limits and server-side failures are retryable;
// authentication and client errors are not.
func classifyStatus(provider string, status int, body string) *ProviderError {
	switch {
	case status == 401 || status == 403:
		return NewProviderError(provider, services.CodeProviderAuthFailed,
			"provider rejected credentials", status, false, nil)
	case status == 429:
		return NewProviderError(provider, services.CodeProviderRateLimited,
			"provider rate limited", status, true, nil)
	case status == 408 || status == 504:
		return NewProviderError(provider, services.CodeNetworkTimeout,
			"provider timed out", status, true, nil)
	case status >= 500:
		return NewProviderError(provider, services.CodeProviderUnavailable,
			"provider returned "+body, status, true, nil)
	default:
		return NewProviderError(provider, services.CodeProviderUnavailable,
			"provider returned "+body, status, false, nil)
	}
}
