// internal/workers/analytics/gen-chart/handler_test.go
package genchart

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/bi"
	"bi-workers/internal/common/config"
	errs "bi-workers/internal/common/errors"
	"bi-workers/internal/common/logger"
	"bi-workers/internal/store"
)

// ==========================
// Test Helper Functions
// ==========================

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context, id int64) (*store.Chart, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*store.Chart), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id int64, status chart.Status, execMessage string) error {
	return m.Called(ctx, id, status, execMessage).Error(0)
}

func (m *MockRepository) Complete(ctx context.Context, id int64, genChart, genResult string) error {
	return m.Called(ctx, id, genChart, genResult).Error(0)
}

func createTestConfig() *Config {
	return &Config{Timeout: 2 * time.Second, MaxRetries: 0, MaxJobsActive: 1}
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	activatedJob := &pb.ActivatedJob{
		Key:                      key,
		Type:                     TaskType,
		ProcessInstanceKey:       key * 10,
		BpmnProcessId:            "gen-chart-process",
		ProcessDefinitionVersion: 1,
		ProcessDefinitionKey:     1,
		ElementId:                "Activity_GenChart",
		ElementInstanceKey:       1,
		CustomHeaders:            "{}",
		Worker:                   "test-worker",
		Retries:                  3,
		Deadline:                 0,
		Variables:                string(variablesJSON),
	}

	return entities.Job{ActivatedJob: activatedJob}
}

func waitingChart() *store.Chart {
	return &store.Chart{
		ID:           21,
		Goal:         "Analyze growth",
		Name:         "Growth Chart",
		ChartType:    chart.ChartTypeLine,
		DataFilename: "growth.csv",
		ChartData:    []byte("month,users\n1,10\n"),
		Status:       chart.StatusWait,
	}
}

func setupHandler(t *testing.T, handler http.HandlerFunc) (*Handler, *MockRepository) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := bi.NewClient(config.BIConfig{BaseURL: srv.URL, Timeout: 1000}, logger.NewTestLogger(t)).
		WithHTTPClient(srv.Client())
	repo := new(MockRepository)
	return NewHandler(createTestConfig(), repo, client, logger.NewTestLogger(t)), repo
}

// ==========================
// Execute
// ==========================

func TestExecute_Success(t *testing.T) {
	code := `{"series":[{"type":"line","data":[10]}]}`
	h, repo := setupHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "折线图", r.FormValue("chartType"))
		_, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "growth.csv", hdr.Filename)
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{"genChart": code, "genResult": "持续增长"},
		})
	})

	repo.On("Get", mock.Anything, int64(21)).Return(waitingChart(), nil)
	repo.On("UpdateStatus", mock.Anything, int64(21), chart.StatusRunning, "").Return(nil)
	repo.On("Complete", mock.Anything, int64(21), code, "持续增长").Return(nil)

	out, err := h.Execute(context.Background(), &Input{ChartID: 21})

	require.NoError(t, err)
	assert.Equal(t, &Output{ChartID: 21, ChartStatus: "succeed", Conclusion: "持续增长"}, out)
	repo.AssertExpectations(t)
}

func TestExecute_AlreadySucceededIsIdempotent(t *testing.T) {
	h, repo := setupHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	})

	done := waitingChart()
	done.Status = chart.StatusSucceed
	done.GenResult = "旧结论"
	repo.On("Get", mock.Anything, int64(21)).Return(done, nil)

	out, err := h.Execute(context.Background(), &Input{ChartID: 21})
	require.NoError(t, err)
	assert.Equal(t, "旧结论", out.Conclusion)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		wantCode errs.ErrorCode
	}{
		{name: "no data", body: `{"code":0,"data":null}`, wantCode: errs.ErrCodeEmptyResponse},
		{name: "empty chart code", body: `{"code":0,"data":{"genChart":"","genResult":"x"}}`, wantCode: errs.ErrCodeChartCodeParseError},
		{name: "series not a list", body: `{"code":0,"data":{"genChart":"{\"series\":\"line\"}","genResult":"x"}}`, wantCode: errs.ErrCodeChartCodeParseError},
		{name: "rejected", body: `{"code":50001,"data":null,"message":"AI 生成错误"}`, wantCode: errs.ErrCodeBIRejected},
		{name: "backend down", status: http.StatusBadGateway, wantCode: errs.ErrCodeBIRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo := setupHandler(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			})
			repo.On("Get", mock.Anything, int64(21)).Return(waitingChart(), nil)
			repo.On("UpdateStatus", mock.Anything, int64(21), chart.StatusRunning, "").Return(nil)

			_, err := h.Execute(context.Background(), &Input{ChartID: 21})

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errs.Normalize(err).Code)
			repo.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestExecute_ChartCodeFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{name: "blank", code: "", want: "分析失败,图表代码解析错误"},
		{name: "malformed", code: "not json", want: "分析失败,decode chart code: invalid character 'o' in literal null (expecting 'u')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]interface{}{
				"code": 0,
				"data": map[string]interface{}{"genChart": tt.code, "genResult": "x"},
			})
			h, repo := setupHandler(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(body)
			})
			repo.On("Get", mock.Anything, int64(21)).Return(waitingChart(), nil)
			repo.On("UpdateStatus", mock.Anything, int64(21), chart.StatusRunning, "").Return(nil)

			_, err := h.Execute(context.Background(), &Input{ChartID: 21})
			assert.Equal(t, tt.want, errs.FailureNotification(err))
		})
	}
}

func TestExecute_ChartNotFound(t *testing.T) {
	h, repo := setupHandler(t, func(w http.ResponseWriter, r *http.Request) {})
	repo.On("Get", mock.Anything, int64(404)).Return(nil, errs.NewChartNotFoundError(404))

	_, err := h.Execute(context.Background(), &Input{ChartID: 404})
	assert.Equal(t, errs.ErrCodeChartNotFound, errs.Normalize(err).Code)
}

// ==========================
// Job plumbing
// ==========================

func TestParseInput(t *testing.T) {
	h, _ := setupHandler(t, func(w http.ResponseWriter, r *http.Request) {})

	in, err := h.parseInput(createMockJob(1, map[string]interface{}{"chartId": 21}))
	require.NoError(t, err)
	assert.Equal(t, int64(21), in.ChartID)

	_, err = h.parseInput(createMockJob(2, map[string]interface{}{}))
	assert.Equal(t, errs.ErrCodeInvalidForm, errs.Normalize(err).Code)
}

func TestFinalAttempt(t *testing.T) {
	assert.False(t, finalAttempt(errs.NewBIRequestFailedError(stderrors.New("502")), 3))
	assert.True(t, finalAttempt(errs.NewBIRequestFailedError(stderrors.New("502")), 1))
	assert.True(t, finalAttempt(errs.NewEmptyResponseError(), 3))
	assert.True(t, finalAttempt(stderrors.New("unknown"), 3))
}

func TestMarkFailed(t *testing.T) {
	h, repo := setupHandler(t, func(w http.ResponseWriter, r *http.Request) {})
	repo.On("UpdateStatus", mock.Anything, int64(21), chart.StatusFailed, "分析失败,图表代码解析错误").Return(nil)

	h.markFailed(21, errs.NewChartCodeParseError(nil))
	repo.AssertExpectations(t)
}

func TestLoadConfig(t *testing.T) {
	cfg := &config.Config{BI: config.BIConfig{Timeout: 60000}}
	wc := LoadConfig(cfg)
	assert.Equal(t, time.Minute, wc.Timeout)
	assert.Equal(t, 3, wc.MaxRetries)
	assert.Equal(t, 5, wc.MaxJobsActive)
}

func TestWorkerOptions_LockOutlivesBackendCall(t *testing.T) {
	wc := &Config{Timeout: time.Minute, MaxJobsActive: 4}
	opts := wc.WorkerOptions()
	assert.Equal(t, TaskType, opts.TaskType)
	assert.Equal(t, 4, opts.MaxJobsActive)
	assert.Greater(t, opts.JobTimeout, wc.Timeout)
}
