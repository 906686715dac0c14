// Package bi is the client for the BI backend's AI chart-generation endpoint.
package bi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"bi-workers/internal/common/config"
	errs "bi-workers/internal/common/errors"
	httpclient "bi-workers/internal/common/http"
	"bi-workers/internal/common/logger"
)

const genChartPath = "/api/chart/gen"

// GenChartRequest carries the structured form fields; the file is separate.
type GenChartRequest struct {
	Goal      string `json:"goal"`
	Name      string `json:"name"`
	ChartType string `json:"chartType"`
}

// RequestOptions are per-call extras. The form always sends the zero value.
type RequestOptions struct {
	Headers map[string]string
}

// File is the raw upload forwarded as the "file" part.
type File struct {
	Name    string
	Content []byte
}

// BaseResponse is the backend envelope.
type BaseResponse struct {
	Code    int         `json:"code"`
	Data    *BIResponse `json:"data"`
	Message string      `json:"message"`
}

// BIResponse is the data payload. The backend has used both genChart/genResult
// and chartCode/conclusion as field names; both decode.
type BIResponse struct {
	ChartID    int64  `json:"chartId"`
	ChartCode  string `json:"chartCode"`
	Conclusion string `json:"conclusion"`
}

func (r *BIResponse) UnmarshalJSON(b []byte) error {
	var raw struct {
		ChartID    json.Number `json:"chartId"`
		ChartCode  *string     `json:"chartCode"`
		Conclusion *string     `json:"conclusion"`
		GenChart   *string     `json:"genChart"`
		GenResult  *string     `json:"genResult"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = BIResponse{
		ChartCode:  firstNonNil(raw.ChartCode, raw.GenChart),
		Conclusion: firstNonNil(raw.Conclusion, raw.GenResult),
	}
	if raw.ChartID != "" {
		id, err := raw.ChartID.Int64()
		if err != nil {
			return fmt.Errorf("chartId: %w", err)
		}
		r.ChartID = id
	}
	return nil
}

func firstNonNil(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

// Client calls the BI backend.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *httpclient.Client
	logger  logger.Logger
}

// NewClient builds an interactive client with no retries; the deadline is
// the configured BI timeout.
func NewClient(cfg config.BIConfig, log logger.Logger) *Client {
	return NewClientWithRetries(cfg, 0, log)
}

// NewClientWithRetries is used by the async worker, which may retry.
func NewClientWithRetries(cfg config.BIConfig, maxRetries int, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		http:    httpclient.NewClient(0, maxRetries),
		logger:  log,
	}
}

// WithHTTPClient replaces the transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http.WithHTTPClient(hc)
	return c
}

// GenChartByAI posts the form to the backend and returns the decoded envelope.
// A nil Data with a nil error is the backend's "no data" answer. A non-zero
// envelope code or a 4xx status (other than 429) becomes a non-retryable
// BI_REJECTED error.
func (c *Client) GenChartByAI(ctx context.Context, req GenChartRequest, opts RequestOptions, file *File) (*BaseResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType, err := encodeMultipart(req, file)
	if err != nil {
		return nil, errs.NewBIRequestFailedError(err)
	}

	requestID := uuid.New().String()
	start := time.Now()

	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+genChartPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("X-Request-ID", requestID)
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		for k, v := range opts.Headers {
			httpReq.Header.Set(k, v)
		}
		return httpReq, nil
	})
	if err != nil {
		c.logger.Warn("BI request failed", map[string]interface{}{
			"requestId": requestID,
			"error":     err,
			"elapsed":   time.Since(start).String(),
		})
		if errors.Is(err, httpclient.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.NewBITimeoutError()
		}
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return nil, errs.NewBIRejectedError(statusErr.StatusCode, statusErr.Error())
		}
		return nil, errs.NewBIRequestFailedError(err)
	}
	defer resp.Body.Close()

	var envelope BaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errs.NewBIRequestFailedError(fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("BI request completed", map[string]interface{}{
		"requestId": requestID,
		"code":      envelope.Code,
		"hasData":   envelope.Data != nil,
		"elapsed":   time.Since(start).String(),
	})

	if envelope.Code != 0 {
		msg := envelope.Message
		if msg == "" {
			msg = fmt.Sprintf("code %d", envelope.Code)
		}
		return nil, errs.NewBIRejectedError(envelope.Code, msg)
	}
	return &envelope, nil
}

func encodeMultipart(req GenChartRequest, file *File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"goal", req.Goal},
		{"name", req.Name},
		{"chartType", req.ChartType},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if file != nil {
		name := file.Name
		if name == "" {
			name = "data.xlsx"
		}
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
