// Package errors provides the standardized error taxonomy for chart analysis,
// shared by the interactive form controller and the async BPMN worker.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeEmptyResponse       ErrorCode = "EMPTY_RESPONSE"
	ErrCodeChartCodeParseError ErrorCode = "CHART_CODE_PARSE_ERROR"
	ErrCodeBIRequestFailed     ErrorCode = "BI_REQUEST_FAILED"
	ErrCodeBITimeout           ErrorCode = "BI_TIMEOUT"
	ErrCodeBIRejected          ErrorCode = "BI_REJECTED"

	ErrCodeInvalidForm   ErrorCode = "INVALID_FORM"
	ErrCodeInvalidUpload ErrorCode = "INVALID_UPLOAD"

	ErrCodeChartNotFound        ErrorCode = "CHART_NOT_FOUND"
	ErrCodeDatabaseQueryFailed  ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeDatabaseInsertFailed ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeDispatchFailed       ErrorCode = "DISPATCH_FAILED"
)

// User-facing notification texts.
const (
	MsgAnalysisSucceeded = "分析成功"
	MsgAnalysisFailed    = "分析失败"
	MsgChartCodeInvalid  = "图表代码解析错误"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Reason is the text shown after "分析失败," in a failure notification.
func (e *StandardError) Reason() string {
	if e.Details != "" {
		return e.Details
	}
	return e.Message
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newStandardError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmptyResponseError is reported, never thrown: the backend answered without data.
func NewEmptyResponseError() *StandardError {
	return newStandardError(ErrCodeEmptyResponse, "BI backend returned no data", "", false)
}

// NewChartCodeParseError wraps a chart code that did not yield a usable option.
// A nil err reports the fixed 图表代码解析错误 text; otherwise the decoder
// message is shown.
func NewChartCodeParseError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newStandardError(ErrCodeChartCodeParseError, MsgChartCodeInvalid, details, false)
}

// NewBIRequestFailedError creates a retryable transport/backend error.
func NewBIRequestFailedError(err error) *StandardError {
	return newStandardError(ErrCodeBIRequestFailed, "BI backend request failed", err.Error(), true)
}

// NewBITimeoutError creates a retryable timeout error.
func NewBITimeoutError() *StandardError {
	return newStandardError(ErrCodeBITimeout, "BI backend timed out", "request timed out", true)
}

// NewBIRejectedError is a business rejection (non-zero envelope code).
func NewBIRejectedError(code int, message string) *StandardError {
	e := newStandardError(ErrCodeBIRejected, "BI backend rejected the request", message, false)
	e.Metadata = map[string]interface{}{"backendCode": code}
	return e
}

// NewInvalidFormError creates a non-retryable validation error.
func NewInvalidFormError(details string) *StandardError {
	return newStandardError(ErrCodeInvalidForm, "Form validation failed", details, false)
}

// NewInvalidUploadError creates a non-retryable upload error.
func NewInvalidUploadError(details string) *StandardError {
	return newStandardError(ErrCodeInvalidUpload, "Uploaded file rejected", details, false)
}

// NewChartNotFoundError creates a non-retryable lookup error.
func NewChartNotFoundError(chartID int64) *StandardError {
	return newStandardError(ErrCodeChartNotFound, "Chart not found", fmt.Sprintf("chartId: %d", chartID), false)
}

// NewDatabaseQueryFailedError creates a retryable query error.
func NewDatabaseQueryFailedError(op string, err error) *StandardError {
	return newStandardError(ErrCodeDatabaseQueryFailed, "Database query failed", fmt.Sprintf("op: %s, error: %s", op, err.Error()), true)
}

// NewDatabaseInsertFailedError creates a retryable insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return newStandardError(ErrCodeDatabaseInsertFailed, "Database insert failed", err.Error(), true)
}

// NewDispatchFailedError is returned when an async generation cannot be started.
func NewDispatchFailedError(err error) *StandardError {
	return newStandardError(ErrCodeDispatchFailed, "Failed to start chart generation", err.Error(), true)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal codes to the error codes modelled in gen-chart-process.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeEmptyResponse:        "EMPTY_RESPONSE",
	ErrCodeChartCodeParseError:  "CHART_CODE_PARSE_ERROR",
	ErrCodeBIRequestFailed:      "BI_REQUEST_FAILED",
	ErrCodeBITimeout:            "BI_TIMEOUT",
	ErrCodeBIRejected:           "BI_REJECTED",
	ErrCodeInvalidForm:          "INVALID_FORM",
	ErrCodeInvalidUpload:        "INVALID_UPLOAD",
	ErrCodeChartNotFound:        "CHART_NOT_FOUND",
	ErrCodeDatabaseQueryFailed:  "DATABASE_QUERY_FAILED",
	ErrCodeDatabaseInsertFailed: "DATABASE_INSERT_FAILED",
	ErrCodeDispatchFailed:       "DISPATCH_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeBIRequestFailed,
		ErrCodeDatabaseQueryFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeDispatchFailed:
		return 3

	case ErrCodeBITimeout:
		return 1

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// Normalize returns err as a *StandardError, wrapping unknown errors as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// FailureNotification renders the toast text for a failed submission:
// "分析失败" alone for an empty response, "分析失败,<reason>" otherwise.
func FailureNotification(err error) string {
	if err == nil {
		return MsgAnalysisFailed
	}
	stdErr := Normalize(err)
	if stdErr.Code == ErrCodeEmptyResponse {
		return MsgAnalysisFailed
	}
	return MsgAnalysisFailed + "," + stdErr.Reason()
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "BI_"), codeStr == string(ErrCodeEmptyResponse):
		return "BACKEND"
	case strings.Contains(codeStr, "CHART_CODE"):
		return "CHART"
	case strings.Contains(codeStr, "DATABASE"), strings.Contains(codeStr, "NOT_FOUND"):
		return "DATABASE"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "DISPATCH"):
		return "WORKFLOW"
	default:
		return "OTHER"
	}
}
