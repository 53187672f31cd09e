package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/upb/llm-proxy/services/balancer"
)

// HealthCheck returns a simple health check handler
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReadinessCheck reports whether the proxy can serve traffic: at least
// one pipeline must be assembled and selectable.
func ReadinessCheck(reporter HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots := reporter.Snapshot()

		selectable := 0
		for _, snap := range snapshots {
			if snap.Status != balancer.StatusBlacklisted {
				selectable++
			}
		}

		response := map[string]interface{}{
			"status":     "ready",
			"pipelines":  len(snapshots),
			"selectable": selectable,
		}

		w.Header().Set("Content-Type", "application/json")
		if selectable == 0 {
			response["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}
