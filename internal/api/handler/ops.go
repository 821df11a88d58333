// Package handler provides HTTP handlers for the OptiMap API.
package handler

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/optimap/optimap/internal/api/models"
	"github.com/optimap/optimap/internal/api/response"
	"github.com/optimap/optimap/internal/provider/resilience"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler. The registry may be nil when
// no providers are registered.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		registry:  registry,
	}
}

// HealthCheck handles GET /healthz - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /readyz - readiness check. Readiness means
// the process is wired, not that every upstream is reachable; an open
// circuit degrades /v1/ops/status instead of failing readiness.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	if h.registry != nil {
		health.Details = map[string]any{
			"providers": h.registry.Names(),
		}
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider circuit breaker
// status. The overall status degrades to DEGRADED when any breaker is
// half-open and FAIL when any is open.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	now := models.Timestamp(time.Now())
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      now,
		Providers: []models.ProviderStatus{},
	}

	if h.registry != nil {
		for _, ph := range h.registry.Snapshot() {
			provider := models.ProviderStatus{
				Provider:      ph.Name,
				Status:        providerStatus(ph),
				CircuitState:  ph.CircuitState.String(),
				Requests:      ph.Counts.Requests,
				TotalFailures: ph.Counts.TotalFailures,
				LastError:     ph.LastError,
			}
			if ph.LastSuccessAt != nil {
				ts := models.Timestamp(*ph.LastSuccessAt)
				provider.LastSuccessAt = &ts
			}
			if ph.LastFailureAt != nil {
				ts := models.Timestamp(*ph.LastFailureAt)
				provider.LastFailureAt = &ts
			}
			status.Providers = append(status.Providers, provider)

			switch {
			case ph.IsUnhealthy():
				status.Status = models.HealthStatusFail
			case ph.IsDegraded() && status.Status == models.HealthStatusOK:
				status.Status = models.HealthStatusDegraded
			}
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(ph *resilience.ProviderHealth) models.HealthStatus {
	switch ph.CircuitState {
	case gobreaker.StateOpen:
		return models.HealthStatusFail
	case gobreaker.StateHalfOpen:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}
