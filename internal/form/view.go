package form

import (
	"bi-workers/internal/chart"
)

// Placeholder is shown in both result panels until a submission succeeds.
const Placeholder = "请先在左侧进行提交"

// Panel and control labels.
const (
	ConclusionTitle = "分析结论"
	ChartTitle      = "可视化图表"
	PreviewTitle    = "数据预览"
	SubmitLabel     = "提交"
	ResetLabel      = "重置"
)

type Panel struct {
	Title       string
	Text        string
	Placeholder bool
	Loading     bool
}

type ChartPanel struct {
	Title       string
	Option      chart.ChartOption
	OptionJSON  string
	Placeholder bool
	Loading     bool
}

// DataPreview shows the header and first rows of the accepted upload.
type DataPreview struct {
	Title       string
	Filename    string
	Sheet       string
	Rows        int
	Header      []string
	Preview     [][]string
	Previewable bool
}

type Button struct {
	Label    string
	Disabled bool
	Loading  bool
}

// View is a render snapshot of the form's output side. Upload is nil when the
// current submission carried no file.
type View struct {
	State      SubmissionState
	Conclusion Panel
	Chart      ChartPanel
	Upload     *DataPreview
	Submit     Button
	Reset      Button
}

// View never mutates the controller and is safe to call during a submission.
func (c *Controller) View() View {
	c.mu.RLock()
	state, result, option, summary := c.state, c.result, c.option, c.upload
	c.mu.RUnlock()

	loading := state == StateSubmitting

	v := View{
		State:      state,
		Conclusion: Panel{Title: ConclusionTitle, Text: Placeholder, Placeholder: true, Loading: loading},
		Chart:      ChartPanel{Title: ChartTitle, Placeholder: true, Loading: loading},
		Submit:     Button{Label: SubmitLabel, Disabled: loading, Loading: loading},
		Reset:      Button{Label: ResetLabel},
	}

	if summary != nil {
		v.Upload = &DataPreview{
			Title:       PreviewTitle,
			Filename:    summary.Filename,
			Sheet:       summary.Sheet,
			Rows:        summary.Rows,
			Header:      summary.Header,
			Preview:     summary.Preview,
			Previewable: summary.Previewable,
		}
	}

	if result != nil {
		v.Conclusion.Text = result.Conclusion
		v.Conclusion.Placeholder = false
	}

	if option != nil {
		if js, err := option.JSON(); err == nil {
			v.Chart.Option = option
			v.Chart.OptionJSON = js
			v.Chart.Placeholder = false
		}
	}

	return v
}
