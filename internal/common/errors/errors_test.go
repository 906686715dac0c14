package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureNotification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "分析失败"},
		{name: "empty response", err: NewEmptyResponseError(), want: "分析失败"},
		{name: "blank chart code", err: NewChartCodeParseError(nil), want: "分析失败,图表代码解析错误"},
		{name: "malformed chart code", err: NewChartCodeParseError(stderrors.New("unexpected end of JSON input")), want: "分析失败,unexpected end of JSON input"},
		{name: "request failed", err: NewBIRequestFailedError(stderrors.New("connection refused")), want: "分析失败,connection refused"},
		{name: "rejected", err: NewBIRejectedError(40000, "请求参数错误"), want: "分析失败,请求参数错误"},
		{name: "plain error", err: stderrors.New("boom"), want: "分析失败,boom"},
		{name: "wrapped standard", err: fmt.Errorf("submit: %w", NewInvalidUploadError("文件过大")), want: "分析失败,文件过大"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureNotification(tt.err))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	bpmn := ConvertToBPMNError(NewBIRequestFailedError(stderrors.New("503")))
	assert.Equal(t, "BI_REQUEST_FAILED", bpmn.Code)
	assert.Equal(t, 3, bpmn.Retries)
	assert.True(t, bpmn.Retryable)

	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "BI_REQUEST_FAILED", vars["errorCode"])
	assert.Equal(t, "BI_REQUEST_FAILED", vars["originalErrorCode"])

	parse := ConvertToBPMNError(NewChartCodeParseError(nil))
	assert.Equal(t, 0, parse.Retries)
	assert.False(t, parse.Retryable)

	unknown := ConvertToBPMNError(Normalize(stderrors.New("x")))
	assert.Equal(t, "INTERNAL_ERROR", unknown.Code)
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "BACKEND", GetErrorCategory(ErrCodeBITimeout))
	assert.Equal(t, "BACKEND", GetErrorCategory(ErrCodeEmptyResponse))
	assert.Equal(t, "CHART", GetErrorCategory(ErrCodeChartCodeParseError))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeChartNotFound))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidForm))
	assert.Equal(t, "WORKFLOW", GetErrorCategory(ErrCodeDispatchFailed))
	assert.Equal(t, "OTHER", GetErrorCategory("SOMETHING"))
}

func TestIsRetryableErrorCode(t *testing.T) {
	assert.True(t, IsRetryableErrorCode(ErrCodeBITimeout))
	assert.False(t, IsRetryableErrorCode(ErrCodeInvalidForm))
}
