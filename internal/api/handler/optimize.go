package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/api/middleware"
	"github.com/optimap/optimap/internal/api/models"
	"github.com/optimap/optimap/internal/api/response"
	"github.com/optimap/optimap/internal/optimize"
)

// OptimizeService runs the optimization pipeline for one request.
type OptimizeService interface {
	Optimize(ctx context.Context, req optimize.Request) (*optimize.Result, error)
}

// OptimizeHandler handles route optimization endpoints.
type OptimizeHandler struct {
	service OptimizeService
	logger  zerolog.Logger
}

// NewOptimizeHandler creates a new OptimizeHandler.
func NewOptimizeHandler(service OptimizeService, logger zerolog.Logger) *OptimizeHandler {
	return &OptimizeHandler{
		service: service,
		logger:  logger,
	}
}

// OptimizeRoute handles POST /v1/routes/optimize.
func (h *OptimizeHandler) OptimizeRoute(w http.ResponseWriter, r *http.Request) {
	var input models.OptimizeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		traceID := middleware.GetRequestID(r.Context())
		problem := models.NewBadRequest(traceID, "invalid JSON body: "+err.Error(), nil).
			WithCode(string(optimize.KindInvalidInput))
		response.Error(w, r, problem)
		return
	}

	result, err := h.service.Optimize(r.Context(), input.Pipeline())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewOptimizeResponse(result))
}

func (h *OptimizeHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := middleware.GetRequestID(r.Context())

	var oerr *optimize.Error
	if !errors.As(err, &oerr) {
		h.logger.Error().Err(err).Str("request_id", traceID).Msg("unclassified optimization failure")
		response.InternalError(w, r, "an unexpected error occurred")
		return
	}

	problem := problemFor(oerr, traceID)
	if problem.Status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", traceID).Str("code", problem.Code).Msg("optimization failed")
	}
	response.Error(w, r, problem)
}

// problemFor maps a pipeline error onto its HTTP problem. Client-fault
// kinds are 400, routing upstream failures are 503 (timeouts included),
// everything else is 500.
func problemFor(err *optimize.Error, traceID string) *models.Problem {
	var (
		problemType string
		title       string
		status      int
	)
	switch {
	case err.Kind == optimize.KindGeocodingFailed:
		problemType = models.ProblemTypeGeocoding
		title = "Geocoding failed"
		status = http.StatusBadRequest
	case err.Kind.IsClientFault():
		problemType = models.ProblemTypeValidation
		title = "Validation error"
		status = http.StatusBadRequest
	case err.Kind == optimize.KindRoutingUnavailable,
		err.Kind == optimize.KindRoutingTimeout,
		err.Kind == optimize.KindRoutingError:
		problemType = models.ProblemTypeRoutingUpstream
		title = "Routing service unavailable"
		status = http.StatusServiceUnavailable
	default:
		problemType = models.ProblemTypeInternal
		title = "Internal server error"
		status = http.StatusInternalServerError
	}

	problem := models.NewProblem(problemType, title, status, traceID).
		WithDetail(err.Message).
		WithCode(string(err.Kind)).
		WithSuggestion(err.Suggestion)
	if len(err.Details) > 0 {
		fields := make([]models.FieldError, len(err.Details))
		for i, d := range err.Details {
			fields[i] = models.FieldError{
				Field:   d.Field,
				Message: d.Message,
				Value:   d.Value,
			}
		}
		problem.Errors = fields
	}
	return problem
}
