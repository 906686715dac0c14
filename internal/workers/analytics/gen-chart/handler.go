// internal/workers/analytics/gen-chart/handler.go
package genchart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/bi"
	errs "bi-workers/internal/common/errors"
	"bi-workers/internal/common/logger"
	"bi-workers/internal/common/metrics"
	"bi-workers/internal/common/observability"
	"bi-workers/internal/common/validation"
	"bi-workers/internal/store"
)

const (
	TaskType = "gen-chart"
)

// ChartRepository is the part of the chart store the worker needs.
type ChartRepository interface {
	Get(ctx context.Context, id int64) (*store.Chart, error)
	UpdateStatus(ctx context.Context, id int64, status chart.Status, execMessage string) error
	Complete(ctx context.Context, id int64, genChart, genResult string) error
}

// Generator is the BI backend call.
type Generator interface {
	GenChartByAI(ctx context.Context, req bi.GenChartRequest, opts bi.RequestOptions, file *bi.File) (*bi.BaseResponse, error)
}

type Handler struct {
	config       *Config
	repo         ChartRepository
	generator    Generator
	errorHandler *errs.JobErrorHandler
	obs          *observability.Observability
	logger       logger.Logger
}

func NewHandler(config *Config, repo ChartRepository, generator Generator, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		repo:         repo,
		generator:    generator,
		errorHandler: errs.NewJobErrorHandler(log),
		logger:       log,
	}
}

// WithObservability makes the handler report outcomes to obs.
func (h *Handler) WithObservability(obs *observability.Observability) *Handler {
	h.obs = obs
	return h
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
		"retries":     job.Retries,
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.fail(client, job, 0, err, start)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.fail(client, job, input.ChartID, err, start)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordAnalysis(ctx, observability.SourceWorker, metrics.OutcomeSucceeded, time.Since(start))
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, errs.NewInvalidFormError(fmt.Sprintf("parse job variables: %v", err))
	}
	if input.ChartID <= 0 {
		return nil, errs.NewInvalidFormError("chartId is required")
	}
	return &input, nil
}

// Execute generates the chart for input.ChartID. A chart that already
// succeeded is returned unchanged so redelivered jobs are harmless.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	c, err := h.repo.Get(ctx, input.ChartID)
	if err != nil {
		return nil, err
	}
	if c.Status == chart.StatusSucceed {
		h.logger.Info("chart already generated", map[string]interface{}{"chartId": c.ID})
		return &Output{ChartID: c.ID, ChartStatus: string(c.Status), Conclusion: c.GenResult}, nil
	}

	if err := h.repo.UpdateStatus(ctx, c.ID, chart.StatusRunning, ""); err != nil {
		return nil, err
	}

	var file *bi.File
	if len(c.ChartData) > 0 {
		file = &bi.File{Name: c.DataFilename, Content: c.ChartData}
	}

	resp, err := h.generator.GenChartByAI(ctx, bi.GenChartRequest{
		Goal:      c.Goal,
		Name:      c.Name,
		ChartType: string(c.ChartType),
	}, bi.RequestOptions{}, file)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Data == nil {
		return nil, errs.NewEmptyResponseError()
	}

	option, err := chart.ParseChartCode(resp.Data.ChartCode)
	if chart.IsBlank(err) {
		return nil, errs.NewChartCodeParseError(nil)
	}
	if err != nil {
		return nil, errs.NewChartCodeParseError(err)
	}
	if err := validation.ValidateChartOption(option); err != nil {
		return nil, errs.NewChartCodeParseError(err)
	}

	if err := h.repo.Complete(ctx, c.ID, resp.Data.ChartCode, resp.Data.Conclusion); err != nil {
		return nil, err
	}

	h.logger.Info("chart generated", map[string]interface{}{"chartId": c.ID})
	return &Output{
		ChartID:     c.ID,
		ChartStatus: string(chart.StatusSucceed),
		Conclusion:  resp.Data.Conclusion,
	}, nil
}

// finalAttempt reports whether Zeebe will not redeliver the job after err.
func finalAttempt(err error, retriesLeft int32) bool {
	stdErr := errs.Normalize(err)
	return !stdErr.Retryable || !errs.IsRetryableErrorCode(stdErr.Code) || retriesLeft <= 1
}

// fail reports on a fresh context: the job context may already be expired.
func (h *Handler) fail(client worker.JobClient, job entities.Job, chartID int64, err error, start time.Time) {
	stdErr := errs.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordAnalysis(context.Background(), observability.SourceWorker, metrics.OutcomeFailed, time.Since(start))

	if chartID > 0 && finalAttempt(err, job.Retries) {
		h.markFailed(chartID, err)
	}
	h.errorHandler.HandleJobError(context.Background(), client, job, err)
}

func (h *Handler) markFailed(chartID int64, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if updErr := h.repo.UpdateStatus(ctx, chartID, chart.StatusFailed, errs.FailureNotification(err)); updErr != nil {
		h.logger.Error("Failed to mark chart failed", map[string]interface{}{
			"chartId": chartID,
			"error":   updErr.Error(),
		})
	}
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}
