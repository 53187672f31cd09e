package handlers

import (
	"net/http"

	"github.com/upb/llm-proxy/services/balancer"
	"github.com/upb/llm-proxy/utils"
	"go.uber.org/zap"
)

// HealthReporter exposes the load balancer's per-pipeline health view.
type HealthReporter interface {
	Snapshot() []balancer.PipelineSnapshot
}

// PipelinesHandler serves the pipeline health surface
type PipelinesHandler struct {
	reporter HealthReporter
	logger   *zap.Logger
}

// NewPipelinesHandler creates a new PipelinesHandler
func NewPipelinesHandler(reporter HealthReporter, logger *zap.Logger) *PipelinesHandler {
	return &PipelinesHandler{
		reporter: reporter,
		logger:   logger,
	}
}

// HandleListPipelines handles GET /v1/pipelines
func (h *PipelinesHandler) HandleListPipelines(w http.ResponseWriter, r *http.Request) {
	snapshots := h.reporter.Snapshot()
	if err := utils.WriteOK(w, snapshots); err != nil {
		h.logger.Error("failed to write pipelines response", zap.Error(err))
	}
}
