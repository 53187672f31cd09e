package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/llm-proxy/services"
	"github.com/upb/llm-proxy/services/providers"
	"github.com/upb/llm-proxy/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps proxy errors to HTTP responses. Routing and
// validation failures are client-visible 4xx/503 conditions; provider
// and network failures surface as gateway errors carrying the upstream
// context; internal errors return a generic message.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	code := services.GetCode(err)
	details := services.GetDetails(err)

	// A pipeline failure wrapping a provider error is reported by the
	// upstream condition, not the wrapper.
	var provErr *providers.ProviderError
	if code == services.CodePipelineExecutionFailed && errors.As(err, &provErr) {
		code = provErr.Code
	}

	switch code {
	case services.CodeValidationError:
		if werr := utils.WriteBadRequest(w, err.Error(), details); werr != nil {
			logger.Error("failed to write bad request response", zap.Error(werr))
		}

	case services.CodeRouterInvalidRoute:
		if werr := utils.WriteNotFound(w, err.Error()); werr != nil {
			logger.Error("failed to write not found response", zap.Error(werr))
		}

	case services.CodeRouterNoProvider, services.CodePipelineModuleMissing:
		if werr := utils.WriteServiceUnavailable(w, err.Error(), details); werr != nil {
			logger.Error("failed to write service unavailable response", zap.Error(werr))
		}

	case services.CodeProviderRateLimited:
		if werr := utils.WriteTooManyRequests(w, err.Error(), details); werr != nil {
			logger.Error("failed to write rate limit response", zap.Error(werr))
		}

	case services.CodeNetworkTimeout:
		if werr := utils.WriteGatewayTimeout(w, err.Error(), details); werr != nil {
			logger.Error("failed to write gateway timeout response", zap.Error(werr))
		}

	case services.CodeProviderUnavailable, services.CodeProviderAuthFailed,
		services.CodeNetworkConnectionFailed, services.CodePipelineExecutionFailed:
		if werr := utils.WriteBadGateway(w, err.Error(), details); werr != nil {
			logger.Error("failed to write bad gateway response", zap.Error(werr))
		}

	default:
		// Internal, config, and unknown errors are logged in full but
		// never leaked to the client
		logger.Error("internal server error",
			zap.String("code", string(code)),
			zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if werr := utils.WriteBadRequest(w, "Validation failed", details); werr != nil {
			logger.Error("failed to write validation error response", zap.Error(werr))
		}
		return
	}

	if werr := utils.WriteBadRequest(w, err.Error(), nil); werr != nil {
		logger.Error("failed to write validation error response", zap.Error(werr))
	}
}
