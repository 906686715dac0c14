// Package upload checks the optional raw-data file before it is forwarded to
// the BI backend and extracts a small preview for display.
package upload

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/config"
	errs "bi-workers/internal/common/errors"
)

// Rejection reasons surfaced in "分析失败,<reason>".
const (
	ReasonEmpty       = "上传文件为空"
	ReasonTooLarge    = "上传文件超过大小限制"
	ReasonUnsupported = "不支持的文件类型"
	ReasonUnreadable  = "上传文件无法解析"
)

// Summary describes an accepted upload.
type Summary struct {
	Filename string
	Ext      string
	Size     int
	Sheet    string
	Rows     int
	Header   []string
	Preview  [][]string
	// Previewable is false for legacy .xls workbooks, which are forwarded unread.
	Previewable bool
}

// Inspector validates uploads against the configured limits.
type Inspector struct {
	cfg config.UploadConfig
}

func NewInspector(cfg config.UploadConfig) *Inspector {
	return &Inspector{cfg: cfg}
}

// Inspect accepts or rejects u. Rejections are INVALID_UPLOAD errors.
func (i *Inspector) Inspect(u *chart.Upload) (*Summary, error) {
	if u == nil {
		return nil, errs.NewInvalidUploadError(ReasonEmpty)
	}
	if len(u.Content) == 0 {
		return nil, errs.NewInvalidUploadError(ReasonEmpty)
	}
	if i.cfg.MaxBytes > 0 && int64(len(u.Content)) > i.cfg.MaxBytes {
		return nil, errs.NewInvalidUploadError(fmt.Sprintf("%s(%d KB)", ReasonTooLarge, i.cfg.MaxBytes/1024))
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(u.Filename), "."))
	if !i.cfg.IsAllowed(ext) {
		return nil, errs.NewInvalidUploadError(ReasonUnsupported)
	}

	s := &Summary{Filename: u.Filename, Ext: ext, Size: len(u.Content)}

	var rows [][]string
	var err error
	switch ext {
	case "xlsx":
		s.Sheet, rows, err = readWorkbook(u.Content)
	case "csv":
		rows, err = readCSV(u.Content)
	default:
		return s, nil
	}
	if err != nil {
		return nil, errs.NewInvalidUploadError(ReasonUnreadable)
	}

	s.Previewable = true
	s.Rows = len(rows)
	if len(rows) > 0 {
		s.Header = rows[0]
		rest := rows[1:]
		if n := i.cfg.PreviewRows; n > 0 && len(rest) > n {
			rest = rest[:n]
		}
		s.Preview = rest
	}
	return s, nil
}

func readWorkbook(content []byte) (string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]
	if idx := f.GetActiveSheetIndex(); idx > 0 && idx < len(sheets) {
		sheet = sheets[idx]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", nil, err
	}
	return sheet, trimEmptyRows(rows), nil
}

func readCSV(content []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return trimEmptyRows(rows), nil
}

func trimEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
