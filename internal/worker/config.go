// Package worker provides background batch processing for OptiMap.
package worker

import (
	"time"
)

// Default worker bounds.
const (
	// DefaultConcurrency is the number of jobs processed at once.
	DefaultConcurrency = 4

	// DefaultJobTimeout bounds one optimization job end to end,
	// geocoding and matrix fetch included.
	DefaultJobTimeout = 2 * time.Minute
)

// Config holds configuration for the batch worker.
type Config struct {
	// Concurrency is the number of concurrent job executions.
	// Default: 4
	Concurrency int

	// JobTimeout is the timeout for a single job.
	// Default: 2 minutes
	JobTimeout time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		JobTimeout:  DefaultJobTimeout,
	}
}
