// Command chartctl submits a chart analysis from the terminal and inspects
// stored charts.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/bi"
	"bi-workers/internal/common/config"
	"bi-workers/internal/common/database"
	"bi-workers/internal/common/logger"
	"bi-workers/internal/common/validation"
	"bi-workers/internal/form"
	"bi-workers/internal/store"
	"bi-workers/internal/upload"
)

var (
	errInvalidForm    = stderrors.New("invalid form")
	errAnalysisFailed = stderrors.New("analysis failed")
)

// chartReader is the read side of the chart store.
type chartReader interface {
	Status(ctx context.Context, id int64) (*store.StatusEntry, error)
	List(ctx context.Context, userID string, limit int) ([]store.Chart, error)
}

type app struct {
	out        io.Writer
	configPath string
	loadConfig func(path string) (*config.Config, error)
	openStore  func(cfg *config.Config) (chartReader, func(), error)
}

func main() {
	a := &app{
		out:        os.Stdout,
		loadConfig: loadConfig,
		openStore:  openStore,
	}
	if err := a.rootCmd().Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chartctl",
		Short:         "Submit chart analyses to the BI backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: configs/config.yaml)")
	root.SetOut(a.out)

	root.AddCommand(a.analyzeCmd(), a.statusCmd(), a.listCmd(), a.typesCmd())
	return root
}

// =============================================================================
// ANALYZE
// =============================================================================

type analyzeOptions struct {
	goal      string
	name      string
	chartType string
	file      string
	asJSON    bool
}

func (a *app) analyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis and print the conclusion and chart option",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.goal, "goal", "g", "", "分析目标")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "图标名称")
	cmd.Flags().StringVarP(&opts.chartType, "type", "t", "", "图表类型 (折线图|柱状图|堆叠图|饼图|雷达图)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "原始数据 (xlsx/xls/csv)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	return cmd
}

func (a *app) runAnalyze(ctx context.Context, opts *analyzeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := a.loadConfig(a.configPath)
	if err != nil {
		return err
	}

	in := chart.FormInput{
		Goal:      opts.goal,
		Name:      opts.name,
		ChartType: chart.ChartType(opts.chartType),
	}
	if opts.file != "" {
		content, err := os.ReadFile(opts.file)
		if err != nil {
			return fmt.Errorf("read %s: %w", opts.file, err)
		}
		in.File = &chart.Upload{Filename: filepath.Base(opts.file), Content: content}
	}

	vr, err := validation.ValidateForm(in.Fields())
	if err != nil {
		return err
	}
	if !vr.Valid {
		red := color.New(color.FgRed)
		for _, e := range vr.Errors {
			red.Fprintf(a.out, "%s: %s\n", e.Field, e.Message)
		}
		return errInvalidForm
	}

	log := logger.NewZapAdapter(logger.NewWithOutput(cfg.Logging.Level, "console", "stderr"))
	notifier := newConsoleNotifier(a.out)
	ctrl := form.NewController(bi.NewClient(cfg.BI, log), notifier, form.Options{
		Inspector: upload.NewInspector(cfg.Upload),
		Logger:    log,
	})

	ctrl.Submit(ctx, in)

	if err := printView(a.out, ctrl.View(), opts.asJSON); err != nil {
		return err
	}
	if notifier.Failed() {
		return errAnalysisFailed
	}
	return nil
}

func printView(w io.Writer, v form.View, asJSON bool) error {
	if asJSON {
		// The placeholder is UI text; JSON readers get null instead.
		var conclusion interface{}
		if !v.Conclusion.Placeholder {
			conclusion = v.Conclusion.Text
		}
		out := map[string]interface{}{
			"conclusion": conclusion,
			"option":     v.Chart.Option,
		}
		if p := v.Upload; p != nil {
			out["upload"] = map[string]interface{}{
				"filename": p.Filename,
				"sheet":    p.Sheet,
				"rows":     p.Rows,
				"header":   p.Header,
				"preview":  p.Preview,
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	cyan := color.New(color.FgCyan)
	if p := v.Upload; p != nil {
		cyan.Fprintln(w, p.Title)
		printPreview(w, p)
	}
	cyan.Fprintln(w, v.Conclusion.Title)
	fmt.Fprintln(w, v.Conclusion.Text)
	cyan.Fprintln(w, v.Chart.Title)
	if v.Chart.Placeholder {
		fmt.Fprintln(w, form.Placeholder)
	} else {
		fmt.Fprintln(w, v.Chart.OptionJSON)
	}
	return nil
}

func printPreview(w io.Writer, p *form.DataPreview) {
	name := p.Filename
	if p.Sheet != "" {
		name += " / " + p.Sheet
	}
	if !p.Previewable {
		fmt.Fprintln(w, name)
		return
	}
	fmt.Fprintf(w, "%s (%d 行)\n", name, p.Rows)
	if len(p.Header) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(p.Header, "\t"))
	for _, row := range p.Preview {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// =============================================================================
// STATUS / LIST
// =============================================================================

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <chart-id>",
		Short: "Show the generation status of a stored chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid chart id %q", args[0])
			}

			charts, closeFn, err := a.connect()
			if err != nil {
				return err
			}
			defer closeFn()

			entry, err := charts.Status(commandContext(cmd), id)
			if err != nil {
				return err
			}
			statusColor(entry.Status).Fprintf(a.out, "%d\t%s", id, entry.Status)
			if entry.ExecMessage != "" {
				fmt.Fprintf(a.out, "\t%s", entry.ExecMessage)
			}
			fmt.Fprintln(a.out)
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var userID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored charts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			charts, closeFn, err := a.connect()
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := charts.List(commandContext(cmd), userID, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tCREATED")
			for _, c := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.ChartType, c.Status, c.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only charts of this session id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of charts")
	return cmd
}

func (a *app) typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the supported chart types",
		Run: func(cmd *cobra.Command, args []string) {
			for _, t := range chart.ChartTypes {
				fmt.Fprintln(a.out, t)
			}
		},
	}
}

func (a *app) connect() (chartReader, func(), error) {
	cfg, err := a.loadConfig(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.StoreEnabled() {
		return nil, nil, fmt.Errorf("chart store is not configured (database.postgres.host)")
	}
	return a.openStore(cfg)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func statusColor(s chart.Status) *color.Color {
	switch s {
	case chart.StatusSucceed:
		return color.New(color.FgGreen)
	case chart.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

func openStore(cfg *config.Config) (chartReader, func(), error) {
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{pg.Close}

	var s *store.ChartStore
	ttl := time.Duration(cfg.Database.Redis.StatusTTL) * time.Second
	if cfg.CacheEnabled() {
		rdb := database.NewRedis(cfg.Database.Redis)
		closers = append(closers, rdb.Close)
		s = store.NewChartStore(pg.GetDB(), rdb.GetClient(), ttl, logger.NewNoOpLogger())
	} else {
		s = store.NewChartStore(pg.GetDB(), nil, ttl, logger.NewNoOpLogger())
	}

	return s, func() {
		for _, c := range closers {
			_ = c()
		}
	}, nil
}
