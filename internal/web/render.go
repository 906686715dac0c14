package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"bi-workers/internal/chart"
	"bi-workers/internal/form"
	"bi-workers/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

const componentForbidden = "403"

// Pages rendered inside templates/layout.html; everything else stands alone.
var (
	layoutPages = []string{componentAdd, componentAddAsync, componentMyChart, componentWelcome, componentAdmin}
	barePages   = []string{componentLogin, componentRegister, componentNotFound, componentForbidden}
)

var statusLabels = map[chart.Status]string{
	chart.StatusWait:    "等待生成",
	chart.StatusRunning: "生成中",
	chart.StatusSucceed: "生成成功",
	chart.StatusFailed:  "生成失败",
}

type pageData struct {
	Title       string
	Menu        []MenuItem
	Toasts      []Toast
	Refresh     int
	Notice      string
	Placeholder string
	ChartTypes  []chart.ChartType
	Values      FormValues
	Errors      map[string]string
	View        form.View
	Charts      []chartCard
}

type chartCard struct {
	ID          int64
	Name        string
	Goal        string
	ChartType   chart.ChartType
	Status      chart.Status
	StatusLabel string
	Conclusion  string
	ExecMessage string
	OptionJSON  string
	CreatedAt   time.Time
}

func newChartCard(c *store.Chart) chartCard {
	card := chartCard{
		ID:          c.ID,
		Name:        c.Name,
		Goal:        c.Goal,
		ChartType:   c.ChartType,
		Status:      c.Status,
		StatusLabel: statusLabels[c.Status],
		Conclusion:  c.GenResult,
		ExecMessage: c.ExecMessage,
		CreatedAt:   c.CreatedAt,
	}
	if opt, ok := c.Option(); ok {
		if js, err := opt.JSON(); err == nil {
			card.OptionJSON = js
		}
	}
	return card
}

type viewJSON struct {
	State      string            `json:"state"`
	Conclusion string            `json:"conclusion"`
	Option     chart.ChartOption `json:"option,omitempty"`
	Loading    bool              `json:"loading"`
}

type page struct {
	tmpl  *template.Template
	entry string
}

type renderer struct {
	pages map[string]page
}

func newRenderer() (*renderer, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	}

	r := &renderer{pages: make(map[string]page)}
	for _, name := range layoutPages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		r.pages[name] = page{tmpl: t, entry: "layout"}
	}
	for _, name := range barePages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		r.pages[name] = page{tmpl: t, entry: "page"}
	}
	return r, nil
}

// render buffers the page so a template error can still become a 500.
func (r *renderer) render(w http.ResponseWriter, status int, name string, data *pageData) {
	p, ok := r.pages[name]
	if !ok {
		http.Error(w, "unknown page", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, p.entry, data); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
