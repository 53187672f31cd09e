package services

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a proxy error condition surfaced to callers.
type ErrorCode string

const (
	// Routing errors
	CodeRouterInvalidRoute ErrorCode = "ROUTER_INVALID_ROUTE"
	CodeRouterNoProvider   ErrorCode = "ROUTER_NO_PROVIDER"
	CodeRouterConfigError  ErrorCode = "ROUTER_CONFIG_ERROR"

	// Pipeline errors
	CodePipelineAssemblyFailed  ErrorCode = "PIPELINE_ASSEMBLY_FAILED"
	CodePipelineExecutionFailed ErrorCode = "PIPELINE_EXECUTION_FAILED"
	CodePipelineModuleMissing   ErrorCode = "PIPELINE_MODULE_MISSING"

	// Provider errors
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeProviderAuthFailed  ErrorCode = "PROVIDER_AUTH_FAILED"
	CodeProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"

	// Network errors
	CodeNetworkTimeout          ErrorCode = "NETWORK_TIMEOUT"
	CodeNetworkConnectionFailed ErrorCode = "NETWORK_CONNECTION_FAILED"

	// Request and internal errors
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeInternalError   ErrorCode = "INTERNAL_ERROR"
	CodeUnknownError    ErrorCode = "UNKNOWN_ERROR"
)

// ErrorGroup classifies codes into the taxonomy the server layer maps
// onto HTTP status classes.
type ErrorGroup string

const (
	GroupRouting    ErrorGroup = "routing"
	GroupPipeline   ErrorGroup = "pipeline"
	GroupProvider   ErrorGroup = "provider"
	GroupNetwork    ErrorGroup = "network"
	GroupValidation ErrorGroup = "validation"
	GroupInternal   ErrorGroup = "internal"
)

// Group returns the taxonomy group for a code.
func (c ErrorCode) Group() ErrorGroup {
	switch c {
	case CodeRouterInvalidRoute, CodeRouterNoProvider, CodeRouterConfigError:
		return GroupRouting
	case CodePipelineAssemblyFailed, CodePipelineExecutionFailed, CodePipelineModuleMissing:
		return GroupPipeline
	case CodeProviderUnavailable, CodeProviderAuthFailed, CodeProviderRateLimited:
		return GroupProvider
	case CodeNetworkTimeout, CodeNetworkConnectionFailed:
		return GroupNetwork
	case CodeValidationError:
		return GroupValidation
	default:
		return GroupInternal
	}
}

// ProxyError represents a structured error with routing context.
type ProxyError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *ProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is: two proxy errors match when their codes match
func (e *ProxyError) Is(target error) bool {
	t, ok := target.(*ProxyError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a detail to the error
func (e *ProxyError) WithDetail(key string, value interface{}) *ProxyError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewProxyError creates a new proxy error
func NewProxyError(code ErrorCode, message string, err error) *ProxyError {
	return &ProxyError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinel errors, matched by code via errors.Is

var (
	ErrInvalidRoute     = NewProxyError(CodeRouterInvalidRoute, "no routing rules configured for category", nil)
	ErrNoProvider       = NewProxyError(CodeRouterNoProvider, "no healthy provider available for category", nil)
	ErrRouterConfig     = NewProxyError(CodeRouterConfigError, "routing table configuration invalid", nil)
	ErrAssemblyFailed   = NewProxyError(CodePipelineAssemblyFailed, "pipeline assembly failed", nil)
	ErrExecutionFailed  = NewProxyError(CodePipelineExecutionFailed, "pipeline execution failed", nil)
	ErrModuleMissing    = NewProxyError(CodePipelineModuleMissing, "pipeline module missing", nil)
	ErrProviderDown     = NewProxyError(CodeProviderUnavailable, "provider unavailable", nil)
	ErrProviderAuth     = NewProxyError(CodeProviderAuthFailed, "provider authentication failed", nil)
	ErrProviderRate     = NewProxyError(CodeProviderRateLimited, "provider rate limited", nil)
	ErrNetworkTimeout   = NewProxyError(CodeNetworkTimeout, "network timeout", nil)
	ErrConnectionFailed = NewProxyError(CodeNetworkConnectionFailed, "network connection failed", nil)
	ErrValidation       = NewProxyError(CodeValidationError, "invalid request", nil)
	ErrInternal         = NewProxyError(CodeInternalError, "internal error", nil)
	ErrUnknown          = NewProxyError(CodeUnknownError, "unknown error", nil)
)

// GetCode returns the error code of a proxy error, or CodeUnknownError
// for errors produced outside the taxonomy.
func GetCode(err error) ErrorCode {
	var proxyErr *ProxyError
	if errors.As(err, &proxyErr) {
		return proxyErr.Code
	}
	return CodeUnknownError
}

// GetDetails returns the details map of a proxy error, or nil
func GetDetails(err error) map[string]interface{} {
	var proxyErr *ProxyError
	if errors.As(err, &proxyErr) {
		return proxyErr.Details
	}
	return nil
}

// IsRoutingError checks if an error belongs to the routing group
func IsRoutingError(err error) bool {
	return GetCode(err).Group() == GroupRouting
}

// IsPipelineError checks if an error belongs to the pipeline group
func IsPipelineError(err error) bool {
	return GetCode(err).Group() == GroupPipeline
}

// IsProviderError checks if an error belongs to the provider group
func IsProviderError(err error) bool {
	return GetCode(err).Group() == GroupProvider
}

// IsNetworkError checks if an error belongs to the network group
func IsNetworkError(err error) bool {
	return GetCode(err).Group() == GroupNetwork
}

// IsValidationError checks if an error belongs to the validation group
func IsValidationError(err error) bool {
	return GetCode(err).Group() == GroupValidation
}
