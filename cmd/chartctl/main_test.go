package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/config"
	errs "bi-workers/internal/common/errors"
	"bi-workers/internal/form"
	"bi-workers/internal/store"
)

const validCode = `{"series":[{"type":"line","data":[10,20]}]}`

type fakeCharts struct {
	statuses map[int64]store.StatusEntry
	charts   []store.Chart
	gotUser  string
	gotLimit int
}

func (f *fakeCharts) Status(_ context.Context, id int64) (*store.StatusEntry, error) {
	entry, ok := f.statuses[id]
	if !ok {
		return nil, errs.NewChartNotFoundError(id)
	}
	return &entry, nil
}

func (f *fakeCharts) List(_ context.Context, userID string, limit int) ([]store.Chart, error) {
	f.gotUser, f.gotLimit = userID, limit
	return f.charts, nil
}

func newTestApp(t *testing.T, backend http.HandlerFunc, charts chartReader) (*app, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	cfg := &config.Config{
		BI:      config.BIConfig{Timeout: 2000},
		Upload:  config.UploadConfig{MaxBytes: 1 << 20, AllowedExtensions: []string{"csv", "xlsx"}},
		Logging: config.LoggingConfig{Level: "error"},
	}
	if backend != nil {
		srv := httptest.NewServer(backend)
		t.Cleanup(srv.Close)
		cfg.BI.BaseURL = srv.URL
	}
	if charts != nil {
		cfg.Database.Postgres.Host = "localhost"
	}

	out := &bytes.Buffer{}
	return &app{
		out:        out,
		loadConfig: func(string) (*config.Config, error) { return cfg, nil },
		openStore: func(*config.Config) (chartReader, func(), error) {
			return charts, func() {}, nil
		},
	}, out
}

func run(a *app, args ...string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func TestAnalyze_Success(t *testing.T) {
	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Growth Chart", r.FormValue("name"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{"genChart": validCode, "genResult": "用户持续增长"},
		})
	}, nil)

	err := run(a, "analyze", "-g", "Analyze growth", "-n", "Growth Chart", "-t", "折线图")

	require.NoError(t, err)
	assert.Contains(t, out.String(), "✓ 分析成功")
	assert.Contains(t, out.String(), "用户持续增长")
	assert.Contains(t, out.String(), `"series"`)
	assert.NotContains(t, out.String(), form.Placeholder)
}

func TestAnalyze_NoDataShowsPlaceholders(t *testing.T) {
	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":null}`))
	}, nil)

	err := run(a, "analyze", "-g", "Analyze growth", "-n", "Growth Chart", "-t", "折线图")

	assert.ErrorIs(t, err, errAnalysisFailed)
	assert.Contains(t, out.String(), "✗ 分析失败\n")
	assert.Equal(t, 2, strings.Count(out.String(), form.Placeholder))
}

func TestAnalyze_InvalidFormSkipsBackend(t *testing.T) {
	called := false
	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, nil)

	err := run(a, "analyze", "-g", "Analyze growth", "-t", "散点图")

	assert.ErrorIs(t, err, errInvalidForm)
	assert.Contains(t, out.String(), "name: 请输入图标名称")
	assert.Contains(t, out.String(), "chartType: 不支持的图表类型")
	assert.False(t, called)
}

func TestAnalyze_ForwardsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growth.csv")
	require.NoError(t, os.WriteFile(path, []byte("month,users\n1,10\n"), 0o600))

	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer f.Close()
			content, _ := io.ReadAll(f)
			assert.Equal(t, "growth.csv", hdr.Filename)
			assert.Equal(t, "month,users\n1,10\n", string(content))
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"genChart":"{\"series\":[]}","genResult":"ok"}}`))
	}, nil)

	require.NoError(t, run(a, "analyze", "-g", "g", "-n", "n", "-t", "饼图", "-f", path, "--json"))

	var got map[string]interface{}
	body := out.String()
	require.NoError(t, json.Unmarshal([]byte(body[strings.Index(body, "{"):]), &got))
	assert.Equal(t, "ok", got["conclusion"])
}

func TestAnalyze_PrintsUploadPreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growth.csv")
	require.NoError(t, os.WriteFile(path, []byte("month,users\n1月,10\n2月,20\n"), 0o600))

	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"genChart":"{\"series\":[]}","genResult":"ok"}}`))
	}, nil)

	require.NoError(t, run(a, "analyze", "-g", "g", "-n", "n", "-t", "饼图", "-f", path))

	lines := strings.Split(out.String(), "\n")
	start := -1
	for i, l := range lines {
		if l == form.PreviewTitle {
			start = i
		}
	}
	require.NotEqual(t, -1, start, out.String())
	require.Greater(t, len(lines), start+4)
	assert.Equal(t, "growth.csv (3 行)", lines[start+1])
	assert.Equal(t, []string{"month", "users"}, strings.Fields(lines[start+2]))
	assert.Equal(t, []string{"1月", "10"}, strings.Fields(lines[start+3]))
	assert.Equal(t, []string{"2月", "20"}, strings.Fields(lines[start+4]))
}

func TestAnalyze_JSONCarriesUploadPreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "growth.csv")
	require.NoError(t, os.WriteFile(path, []byte("month,users\n1,10\n"), 0o600))

	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"genChart":"{\"series\":[]}","genResult":"ok"}}`))
	}, nil)

	require.NoError(t, run(a, "analyze", "-g", "g", "-n", "n", "-t", "饼图", "-f", path, "--json"))

	var got struct {
		Upload struct {
			Filename string     `json:"filename"`
			Rows     int        `json:"rows"`
			Header   []string   `json:"header"`
			Preview  [][]string `json:"preview"`
		} `json:"upload"`
	}
	body := out.String()
	require.NoError(t, json.Unmarshal([]byte(body[strings.Index(body, "{"):]), &got))
	assert.Equal(t, "growth.csv", got.Upload.Filename)
	assert.Equal(t, 2, got.Upload.Rows)
	assert.Equal(t, []string{"month", "users"}, got.Upload.Header)
	assert.Equal(t, [][]string{{"1", "10"}}, got.Upload.Preview)
}

func TestAnalyze_JSONWithoutResultHasNullFields(t *testing.T) {
	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":null}`))
	}, nil)

	err := run(a, "analyze", "-g", "g", "-n", "n", "-t", "饼图", "--json")
	assert.ErrorIs(t, err, errAnalysisFailed)

	body := out.String()
	assert.NotContains(t, body, form.Placeholder)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body[strings.Index(body, "{"):]), &got))
	assert.Contains(t, got, "conclusion")
	assert.Nil(t, got["conclusion"])
	assert.Nil(t, got["option"])
}

func TestAnalyze_RejectedUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	a, out := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	}, nil)

	err := run(a, "analyze", "-g", "g", "-n", "n", "-t", "饼图", "-f", path)
	assert.ErrorIs(t, err, errAnalysisFailed)
	assert.Contains(t, out.String(), "分析失败,不支持的文件类型")
}

func TestStatus(t *testing.T) {
	charts := &fakeCharts{statuses: map[int64]store.StatusEntry{
		7: {Status: chart.StatusFailed, ExecMessage: "分析失败,图表代码解析错误"},
	}}
	a, out := newTestApp(t, nil, charts)

	require.NoError(t, run(a, "status", "7"))
	assert.Equal(t, "7\tfailed\t分析失败,图表代码解析错误\n", out.String())

	err := run(a, "status", "8")
	assert.Equal(t, errs.ErrCodeChartNotFound, errs.Normalize(err).Code)

	assert.Error(t, run(a, "status", "abc"))
}

func TestStatus_StoreNotConfigured(t *testing.T) {
	a, _ := newTestApp(t, nil, nil)
	err := run(a, "status", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chart store is not configured")
}

func TestList(t *testing.T) {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	charts := &fakeCharts{charts: []store.Chart{
		{ID: 2, Name: "增长", ChartType: chart.ChartTypeLine, Status: chart.StatusSucceed, CreatedAt: created},
		{ID: 1, Name: "占比", ChartType: chart.ChartTypePie, Status: chart.StatusWait, CreatedAt: created},
	}}
	a, out := newTestApp(t, nil, charts)

	require.NoError(t, run(a, "list", "--user", "abc", "--limit", "5"))

	assert.Equal(t, "abc", charts.gotUser)
	assert.Equal(t, 5, charts.gotLimit)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "增长")
	assert.Contains(t, lines[2], "wait")
}

func TestTypes(t *testing.T) {
	a, out := newTestApp(t, nil, nil)
	require.NoError(t, run(a, "types"))
	assert.Equal(t, "折线图\n柱状图\n堆叠图\n饼图\n雷达图\n", out.String())
}
