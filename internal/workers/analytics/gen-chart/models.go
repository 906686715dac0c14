// internal/workers/analytics/gen-chart/models.go
package genchart

type Input struct {
	ChartID int64 `json:"chartId"`
}

type Output struct {
	ChartID     int64  `json:"chartId"`
	ChartStatus string `json:"chartStatus"`
	Conclusion  string `json:"conclusion,omitempty"`
}
