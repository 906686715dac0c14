// Package chart holds the chart-analysis domain model shared by the form
// controller, the async worker and the store.
package chart

import "encoding/json"

// ChartType is one of the fixed chart kinds the BI backend understands.
type ChartType string

const (
	ChartTypeLine    ChartType = "折线图"
	ChartTypeBar     ChartType = "柱状图"
	ChartTypeStacked ChartType = "堆叠图"
	ChartTypePie     ChartType = "饼图"
	ChartTypeRadar   ChartType = "雷达图"
)

// ChartTypes lists the selectable types in display order.
var ChartTypes = []ChartType{
	ChartTypeLine,
	ChartTypeBar,
	ChartTypeStacked,
	ChartTypePie,
	ChartTypeRadar,
}

func (t ChartType) Valid() bool {
	for _, ct := range ChartTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// Upload is a single uploaded raw-data file.
type Upload struct {
	Filename string
	Content  []byte
}

// FormInput is what the user fills in on the analysis form.
type FormInput struct {
	Goal      string    `json:"goal"`
	Name      string    `json:"name"`
	ChartType ChartType `json:"chartType"`
	File      *Upload   `json:"-"`
}

// Fields returns the structured request fields; the file travels separately.
func (in FormInput) Fields() map[string]string {
	return map[string]string{
		"goal":      in.Goal,
		"name":      in.Name,
		"chartType": string(in.ChartType),
	}
}

// ChartResult is what the BI backend returns for one analysis.
type ChartResult struct {
	ChartID    int64  `json:"chartId,omitempty"`
	Conclusion string `json:"conclusion"`
	ChartCode  string `json:"chartCode"`
}

// ChartOption is a parsed chart specification (an ECharts option object).
type ChartOption map[string]interface{}

// JSON re-serializes the option for embedding in a page.
func (o ChartOption) JSON() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Status is the lifecycle of a stored chart.
type Status string

const (
	StatusWait    Status = "wait"
	StatusRunning Status = "running"
	StatusSucceed Status = "succeed"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSucceed || s == StatusFailed
}
