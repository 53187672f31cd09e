package providers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-proxy/services"
)

func TestProviderError_Error(t *testing.T) {
	err := NewProviderError("openai", services.CodeProviderUnavailable, "boom", 500, true, nil)
	assert.Equal(t, "boom", err.Error())

	cause := errors.New("connection reset")
	err = NewProviderError("openai", services.CodeNetworkConnectionFailed, "call failed", 0, true, cause)
	assert.Equal(t, "call failed: connection reset", err.Error())
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewProviderError("openai", services.CodeProviderUnavailable, "boom", 500, true, cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsRetryable(t *testing.T) {
	retryable := NewProviderError("openai", services.CodeProviderRateLimited, "slow down", 429, true, nil)
	assert.True(t, IsRetryable(retryable))

	fatal := NewProviderError("openai", services.CodeProviderAuthFailed, "bad key", 401, false, nil)
	assert.False(t, IsRetryable(fatal))

	wrapped := fmt.Errorf("attempt 1: %w", retryable)
	assert.True(t, IsRetryable(wrapped))

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  services.ErrorCode
		retryable bool
	}{
		{"unauthorized", 401, services.CodeProviderAuthFailed, false},
		{"forbidden", 403, services.CodeProviderAuthFailed, false},
		{"rate limited", 429, services.CodeProviderRateLimited, true},
		{"request timeout", 408, services.CodeNetworkTimeout, true},
		{"gateway timeout", 504, services.CodeNetworkTimeout, true},
		{"server error", 500, services.CodeProviderUnavailable, true},
		{"bad gateway", 502, services.CodeProviderUnavailable, true},
		{"client error", 400, services.CodeProviderUnavailable, false},
		{"not found", 404, services.CodeProviderUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStatus("openai", tt.status, "body")
			require.NotNil(t, err)
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "openai", err.Provider)
		})
	}
}
