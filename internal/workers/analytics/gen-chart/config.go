// internal/workers/analytics/gen-chart/config.go
package genchart

import (
	"time"

	"bi-workers/internal/common/camunda"
	"bi-workers/internal/common/config"
)

// jobLockMargin keeps a job locked past the BI call so a slow backend does
// not hand the same chart to a second worker.
const jobLockMargin = 30 * time.Second

type Config struct {
	Timeout       time.Duration
	MaxRetries    int
	MaxJobsActive int
}

func LoadConfig(cfg *config.Config) *Config {
	wc := config.GetWorkerConfig(cfg, TaskType)
	return &Config{
		Timeout:       config.GetDuration(wc.Timeout),
		MaxRetries:    wc.MaxRetries,
		MaxJobsActive: wc.MaxJobsActive,
	}
}

// WorkerOptions is the job worker setup for gen-chart jobs.
func (c *Config) WorkerOptions() camunda.WorkerOptions {
	return camunda.WorkerOptions{
		TaskType:      TaskType,
		MaxJobsActive: c.MaxJobsActive,
		JobTimeout:    c.Timeout + jobLockMargin,
	}
}
