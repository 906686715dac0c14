// Package form implements the chart request form: it owns the submission
// state and the last result, talks to the BI backend, and produces the
// render model for the conclusion and chart panels.
package form

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/bi"
	errs "bi-workers/internal/common/errors"
	"bi-workers/internal/common/logger"
	"bi-workers/internal/common/metrics"
	"bi-workers/internal/upload"
)

// SubmissionState is idle or submitting.
type SubmissionState int

const (
	StateIdle SubmissionState = iota
	StateSubmitting
)

func (s SubmissionState) String() string {
	if s == StateSubmitting {
		return "submitting"
	}
	return "idle"
}

// Generator is the BI backend call.
type Generator interface {
	GenChartByAI(ctx context.Context, req bi.GenChartRequest, opts bi.RequestOptions, file *bi.File) (*bi.BaseResponse, error)
}

// Notifier shows transient toasts.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Recorder receives submission lifecycle events.
type Recorder interface {
	SubmissionStarted()
	SubmissionFinished(ctx context.Context, outcome string, elapsed time.Duration)
	SubmissionRejected()
}

// UploadInspector vets the optional raw-data file.
type UploadInspector interface {
	Inspect(u *chart.Upload) (*upload.Summary, error)
}

// History keeps successful interactive results for the chart list.
type History interface {
	SaveResult(ctx context.Context, userID string, in chart.FormInput, res chart.ChartResult) error
}

// Options are the optional collaborators of a Controller.
type Options struct {
	Inspector UploadInspector
	Recorder  Recorder
	History   History
	Logger    logger.Logger
	// UserID tags saved history entries.
	UserID string
}

// Controller is one form instance. All state lives behind mu; only the
// submission path writes it.
type Controller struct {
	gen    Generator
	notify Notifier
	opts   Options
	log    logger.Logger

	mu     sync.RWMutex
	state  SubmissionState
	result *chart.ChartResult
	option chart.ChartOption
	upload *upload.Summary
}

func NewController(gen Generator, notify Notifier, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Controller{gen: gen, notify: notify, opts: opts, log: log}
}

// Submit runs one submission to completion on the calling goroutine. A call
// made while another submission is in flight does nothing.
func (c *Controller) Submit(ctx context.Context, in chart.FormInput) {
	if !c.claim() {
		c.rejected(in)
		return
	}
	c.run(ctx, in)
}

// Start claims the submitting state and runs the submission in the
// background. It returns false when a submission is already in flight.
func (c *Controller) Start(ctx context.Context, in chart.FormInput) bool {
	if !c.claim() {
		c.rejected(in)
		return false
	}
	go c.run(ctx, in)
	return true
}

// State returns the current submission state.
func (c *Controller) State() SubmissionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Result returns a copy of the last successful result, if any.
func (c *Controller) Result() (*chart.ChartResult, chart.ChartOption) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.result == nil {
		return nil, nil
	}
	res := *c.result
	return &res, c.option
}

// claim moves idle to submitting and clears the previous result in one step.
func (c *Controller) claim() bool {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return false
	}
	c.state = StateSubmitting
	c.result = nil
	c.option = nil
	c.upload = nil
	c.mu.Unlock()

	if c.opts.Recorder != nil {
		c.opts.Recorder.SubmissionStarted()
	}
	return true
}

func (c *Controller) release() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Controller) rejected(in chart.FormInput) {
	c.log.Debug("Submission ignored, another one is in flight", map[string]interface{}{
		"name": in.Name,
	})
	if c.opts.Recorder != nil {
		c.opts.Recorder.SubmissionRejected()
	}
}

func (c *Controller) run(ctx context.Context, in chart.FormInput) {
	start := time.Now()
	outcome := metrics.OutcomeFailed

	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomeFailed
			c.log.Error("Submission panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			c.notify.Error(errs.FailureNotification(fmt.Errorf("%v", r)))
		}
		c.release()
		if c.opts.Recorder != nil {
			c.opts.Recorder.SubmissionFinished(ctx, outcome, time.Since(start))
		}
	}()

	log := c.log.WithFields(map[string]interface{}{
		"goal":      in.Goal,
		"name":      in.Name,
		"chartType": string(in.ChartType),
		"hasFile":   in.File != nil,
	})

	res, option, err := c.analyse(ctx, in, log)
	switch {
	case err != nil:
		log.Warn("Chart analysis failed", map[string]interface{}{
			"error":     err,
			"errorCode": string(errs.Normalize(err).Code),
			"elapsed":   time.Since(start).String(),
		})
		c.notify.Error(errs.FailureNotification(err))

	case res == nil:
		outcome = metrics.OutcomeEmpty
		log.Info("BI backend returned no data", nil)
		c.notify.Error(errs.FailureNotification(errs.NewEmptyResponseError()))

	default:
		outcome = metrics.OutcomeSucceeded
		c.mu.Lock()
		c.result = res
		c.option = option
		c.mu.Unlock()

		log.Info("Chart analysis succeeded", map[string]interface{}{
			"chartId": res.ChartID,
			"elapsed": time.Since(start).String(),
		})
		c.notify.Success(errs.MsgAnalysisSucceeded)

		if c.opts.History != nil {
			if err := c.opts.History.SaveResult(ctx, c.opts.UserID, in, *res); err != nil {
				log.Warn("Failed to record chart history", map[string]interface{}{"error": err})
			}
		}
	}
}

// analyse returns (nil, nil, nil) when the backend answered without data.
func (c *Controller) analyse(ctx context.Context, in chart.FormInput, log logger.Logger) (*chart.ChartResult, chart.ChartOption, error) {
	var file *bi.File
	if in.File != nil {
		if c.opts.Inspector != nil {
			summary, err := c.opts.Inspector.Inspect(in.File)
			if err != nil {
				return nil, nil, err
			}
			log.Debug("Upload accepted", map[string]interface{}{
				"filename": summary.Filename,
				"size":     summary.Size,
				"rows":     summary.Rows,
			})
			c.mu.Lock()
			c.upload = summary
			c.mu.Unlock()
		}
		file = &bi.File{Name: in.File.Filename, Content: in.File.Content}
	}

	req := bi.GenChartRequest{
		Goal:      in.Goal,
		Name:      in.Name,
		ChartType: string(in.ChartType),
	}

	resp, err := c.gen.GenChartByAI(ctx, req, bi.RequestOptions{}, file)
	if err != nil {
		return nil, nil, err
	}
	if resp == nil || resp.Data == nil {
		return nil, nil, nil
	}

	option, err := chart.ParseChartCode(resp.Data.ChartCode)
	if err != nil {
		return nil, nil, chartCodeError(err)
	}

	return &chart.ChartResult{
		ChartID:    resp.Data.ChartID,
		Conclusion: resp.Data.Conclusion,
		ChartCode:  resp.Data.ChartCode,
	}, option, nil
}

func chartCodeError(err error) error {
	if chart.IsBlank(err) {
		return errs.NewChartCodeParseError(nil)
	}
	return errs.NewChartCodeParseError(err)
}
