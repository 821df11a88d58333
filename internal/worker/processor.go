package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/api/models"
	"github.com/optimap/optimap/internal/optimize"
)

// OptimizeService runs the optimization pipeline for one request.
type OptimizeService interface {
	Optimize(ctx context.Context, req optimize.Request) (*optimize.Result, error)
}

// JobMessage is one batch optimization job. The stops and depot index
// follow the same wire shape as the HTTP optimize endpoint.
type JobMessage struct {
	JobID      string             `json:"job_id"`
	Stops      []models.StopInput `json:"stops"`
	DepotIndex int                `json:"depot_index"`
}

// Job result statuses.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobResult is the outcome published for one job. Exactly one of
// Response and Error is set.
type JobResult struct {
	JobID    string                   `json:"job_id"`
	Status   string                   `json:"status"`
	Response *models.OptimizeResponse `json:"response,omitempty"`
	Error    *JobError                `json:"error,omitempty"`
}

// JobError carries the stable error taxonomy for a failed job.
type JobError struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Errors     []models.FieldError `json:"errors,omitempty"`
	Suggestion string              `json:"suggestion,omitempty"`
}

// JobMetrics tracks batch job statistics.
type JobMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalJobs     int64
	CompletedJobs int64
	FailedJobs    int64
	MalformedJobs int64

	// Timings
	LastJobAt       time.Time
	LastJobDuration time.Duration
	TotalDuration   time.Duration
}

// ProcessorConfig holds configuration for creating a Processor.
type ProcessorConfig struct {
	// Service runs the optimization pipeline (required).
	Service OptimizeService

	// JobTimeout bounds one job run.
	// Default: 2 minutes
	JobTimeout time.Duration

	// Logger for job processing.
	Logger zerolog.Logger
}

// Processor executes batch optimization jobs.
type Processor struct {
	service OptimizeService
	timeout time.Duration
	logger  zerolog.Logger
	metrics *JobMetrics
}

// NewProcessor creates a new job processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	return &Processor{
		service: cfg.Service,
		timeout: timeout,
		logger:  cfg.Logger,
		metrics: &JobMetrics{},
	}
}

// Process runs one job through the optimization pipeline. The returned
// result is always publishable: pipeline failures become a failed
// result carrying the error taxonomy, never a processor error.
func (p *Processor) Process(ctx context.Context, job JobMessage) JobResult {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	input := models.OptimizeRequest{
		Stops:      job.Stops,
		DepotIndex: job.DepotIndex,
	}
	result, err := p.service.Optimize(jobCtx, input.Pipeline())
	duration := time.Since(start)

	if err != nil {
		p.recordJob(duration, false)
		p.logger.Warn().
			Str("job_id", job.JobID).
			Dur("duration", duration).
			Err(err).
			Msg("batch job failed")

		return JobResult{
			JobID:  job.JobID,
			Status: JobStatusFailed,
			Error:  jobError(err),
		}
	}

	p.recordJob(duration, true)
	p.logger.Info().
		Str("job_id", job.JobID).
		Int("stops", len(job.Stops)).
		Dur("duration", duration).
		Msg("batch job completed")

	resp := models.NewOptimizeResponse(result)
	return JobResult{
		JobID:    job.JobID,
		Status:   JobStatusCompleted,
		Response: &resp,
	}
}

// jobError maps a pipeline error onto the published taxonomy. Errors
// from outside the pipeline are reported as internal without leaking
// the raw message.
func jobError(err error) *JobError {
	var oerr *optimize.Error
	if !errors.As(err, &oerr) {
		return &JobError{
			Code:    string(optimize.KindInternal),
			Message: "an unexpected error occurred",
		}
	}

	je := &JobError{
		Code:       string(oerr.Kind),
		Message:    oerr.Message,
		Suggestion: oerr.Suggestion,
	}
	for _, d := range oerr.Details {
		je.Errors = append(je.Errors, models.FieldError{
			Field:   d.Field,
			Message: d.Message,
			Value:   d.Value,
		})
	}
	return je
}

func (p *Processor) recordJob(duration time.Duration, completed bool) {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	p.metrics.TotalJobs++
	if completed {
		p.metrics.CompletedJobs++
	} else {
		p.metrics.FailedJobs++
	}
	p.metrics.LastJobAt = time.Now()
	p.metrics.LastJobDuration = duration
	p.metrics.TotalDuration += duration
}

func (p *Processor) recordMalformed() {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	p.metrics.MalformedJobs++
}

// GetMetrics returns a copy of the current metrics.
func (p *Processor) GetMetrics() JobMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return JobMetrics{
		TotalJobs:       p.metrics.TotalJobs,
		CompletedJobs:   p.metrics.CompletedJobs,
		FailedJobs:      p.metrics.FailedJobs,
		MalformedJobs:   p.metrics.MalformedJobs,
		LastJobAt:       p.metrics.LastJobAt,
		LastJobDuration: p.metrics.LastJobDuration,
		TotalDuration:   p.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns the current counters in the shape the worker
// health endpoint serves.
func (p *Processor) MetricsSnapshot() map[string]any {
	m := p.GetMetrics()
	return map[string]any{
		"total_jobs":        m.TotalJobs,
		"completed_jobs":    m.CompletedJobs,
		"failed_jobs":       m.FailedJobs,
		"malformed_jobs":    m.MalformedJobs,
		"last_job_at":       m.LastJobAt,
		"last_job_duration": m.LastJobDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
