package upload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/config"
	errs "bi-workers/internal/common/errors"
)

func testConfig() config.UploadConfig {
	return config.UploadConfig{
		MaxBytes:          1 << 20,
		AllowedExtensions: []string{"xlsx", "xls", "csv"},
		PreviewRows:       2,
	}
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	f.SetCellValue(sheet, "A1", "月份")
	f.SetCellValue(sheet, "B1", "用户数")
	for i, v := range []int{10, 20, 35} {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		f.SetCellValue(sheet, cell, i+1)
		cell, _ = excelize.CoordinatesToCellName(2, row)
		f.SetCellValue(sheet, cell, v)
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestInspect_Workbook(t *testing.T) {
	s, err := NewInspector(testConfig()).Inspect(&chart.Upload{Filename: "growth.XLSX", Content: workbook(t)})
	require.NoError(t, err)

	assert.Equal(t, "xlsx", s.Ext)
	assert.Equal(t, "Sheet1", s.Sheet)
	assert.True(t, s.Previewable)
	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, []string{"月份", "用户数"}, s.Header)
	assert.Equal(t, [][]string{{"1", "10"}, {"2", "20"}}, s.Preview)
}

func TestInspect_CSV(t *testing.T) {
	content := []byte("\xef\xbb\xbfmonth,users\n1,10\n\n2,20\n")
	s, err := NewInspector(testConfig()).Inspect(&chart.Upload{Filename: "data.csv", Content: content})
	require.NoError(t, err)

	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, []string{"month", "users"}, s.Header)
	assert.Len(t, s.Preview, 2)
}

func TestInspect_LegacyWorkbookIsForwardedUnread(t *testing.T) {
	s, err := NewInspector(testConfig()).Inspect(&chart.Upload{Filename: "old.xls", Content: []byte{0xD0, 0xCF, 0x11, 0xE0}})
	require.NoError(t, err)
	assert.False(t, s.Previewable)
	assert.Equal(t, 4, s.Size)
}

func TestInspect_Rejections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytes = 8

	tests := []struct {
		name   string
		upload *chart.Upload
		reason string
	}{
		{name: "nil", upload: nil, reason: ReasonEmpty},
		{name: "empty", upload: &chart.Upload{Filename: "a.csv"}, reason: ReasonEmpty},
		{name: "too large", upload: &chart.Upload{Filename: "a.csv", Content: []byte("0123456789")}, reason: ReasonTooLarge},
		{name: "wrong suffix", upload: &chart.Upload{Filename: "a.txt", Content: []byte("a")}, reason: ReasonUnsupported},
		{name: "corrupt workbook", upload: &chart.Upload{Filename: "a.xlsx", Content: []byte("notazip")}, reason: ReasonUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInspector(cfg).Inspect(tt.upload)
			require.Error(t, err)
			stdErr := errs.Normalize(err)
			assert.Equal(t, errs.ErrCodeInvalidUpload, stdErr.Code)
			assert.Contains(t, stdErr.Details, tt.reason)
		})
	}
}
