// Package store persists analysed charts in Postgres and caches the status of
// async generations in Redis.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bi-workers/internal/chart"
	errs "bi-workers/internal/common/errors"
	"bi-workers/internal/common/logger"
)

// Schema creates the chart table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS chart (
		id            BIGSERIAL PRIMARY KEY,
		user_id       TEXT        NOT NULL DEFAULT '',
		goal          TEXT        NOT NULL,
		name          TEXT        NOT NULL,
		chart_type    TEXT        NOT NULL,
		data_filename TEXT        NOT NULL DEFAULT '',
		chart_data    BYTEA,
		gen_chart     TEXT        NOT NULL DEFAULT '',
		gen_result    TEXT        NOT NULL DEFAULT '',
		status        TEXT        NOT NULL DEFAULT 'wait',
		exec_message  TEXT        NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chart_user_created ON chart (user_id, created_at DESC)`,
}

const statusKeyPrefix = "chart:status:"

// Chart is one stored analysis.
type Chart struct {
	ID           int64
	UserID       string
	Goal         string
	Name         string
	ChartType    chart.ChartType
	DataFilename string
	ChartData    []byte
	GenChart     string
	GenResult    string
	Status       chart.Status
	ExecMessage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StatusEntry is the cached progress of an async generation.
type StatusEntry struct {
	Status      chart.Status `json:"status"`
	ExecMessage string       `json:"execMessage,omitempty"`
}

// ChartStore is the chart repository. The Redis client is optional.
type ChartStore struct {
	db     *sql.DB
	rdb    *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewChartStore(db *sql.DB, rdb *redis.Client, statusTTL time.Duration, log logger.Logger) *ChartStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &ChartStore{db: db, rdb: rdb, ttl: statusTTL, logger: log}
}

// Create inserts a chart awaiting generation and returns its id.
func (s *ChartStore) Create(ctx context.Context, c *Chart) (int64, error) {
	status := c.Status
	if status == "" {
		status = chart.StatusWait
	}

	query := `
		INSERT INTO chart (user_id, goal, name, chart_type, data_filename, chart_data, gen_chart, gen_result, status, exec_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		c.UserID, c.Goal, c.Name, string(c.ChartType), c.DataFilename, c.ChartData,
		c.GenChart, c.GenResult, string(status), c.ExecMessage,
	).Scan(&id)
	if err != nil {
		return 0, errs.NewDatabaseInsertFailedError(err)
	}

	c.ID = id
	c.Status = status
	s.cacheStatus(ctx, id, StatusEntry{Status: status, ExecMessage: c.ExecMessage})
	return id, nil
}

// SaveResult records a finished interactive analysis.
func (s *ChartStore) SaveResult(ctx context.Context, userID string, in chart.FormInput, res chart.ChartResult) error {
	c := &Chart{
		UserID:    userID,
		Goal:      in.Goal,
		Name:      in.Name,
		ChartType: in.ChartType,
		GenChart:  res.ChartCode,
		GenResult: res.Conclusion,
		Status:    chart.StatusSucceed,
	}
	if in.File != nil {
		c.DataFilename = in.File.Filename
	}
	_, err := s.Create(ctx, c)
	return err
}

// UpdateStatus moves a chart to status, recording execMessage.
func (s *ChartStore) UpdateStatus(ctx context.Context, id int64, status chart.Status, execMessage string) error {
	query := `UPDATE chart SET status = $1, exec_message = $2, updated_at = NOW() WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, string(status), execMessage, id)
	if err != nil {
		return errs.NewDatabaseQueryFailedError("update status", err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}

	s.cacheStatus(ctx, id, StatusEntry{Status: status, ExecMessage: execMessage})
	return nil
}

// Complete stores the generated chart and marks it succeed.
func (s *ChartStore) Complete(ctx context.Context, id int64, genChart, genResult string) error {
	query := `
		UPDATE chart
		SET gen_chart = $1, gen_result = $2, status = $3, exec_message = '', updated_at = NOW()
		WHERE id = $4
	`
	res, err := s.db.ExecContext(ctx, query, genChart, genResult, string(chart.StatusSucceed), id)
	if err != nil {
		return errs.NewDatabaseQueryFailedError("complete chart", err)
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}

	s.cacheStatus(ctx, id, StatusEntry{Status: chart.StatusSucceed})
	return nil
}

const (
	selectColumns = `id, user_id, goal, name, chart_type, data_filename, chart_data, gen_chart, gen_result, status, exec_message, created_at, updated_at`
	// listColumns leaves out the uploaded bytes; only the worker reads them.
	listColumns = `id, user_id, goal, name, chart_type, data_filename, gen_chart, gen_result, status, exec_message, created_at, updated_at`
)

// Get loads one chart including its raw data.
func (s *ChartStore) Get(ctx context.Context, id int64) (*Chart, error) {
	query := `SELECT ` + selectColumns + ` FROM chart WHERE id = $1`

	c, err := scanChart(s.db.QueryRowContext(ctx, query, id), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewChartNotFoundError(id)
	}
	if err != nil {
		return nil, errs.NewDatabaseQueryFailedError("get chart", err)
	}
	return c, nil
}

// List returns charts newest first, without ChartData. An empty userID lists
// every user's charts.
func (s *ChartStore) List(ctx context.Context, userID string, limit int) ([]Chart, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + listColumns + ` FROM chart WHERE ($1 = '' OR user_id = $1) ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, errs.NewDatabaseQueryFailedError("list charts", err)
	}
	defer rows.Close()

	var charts []Chart
	for rows.Next() {
		c, err := scanChart(rows, false)
		if err != nil {
			return nil, errs.NewDatabaseQueryFailedError("scan chart", err)
		}
		charts = append(charts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDatabaseQueryFailedError("list charts", err)
	}
	return charts, nil
}

// Status reads the cached status, falling back to the database and
// refilling the cache.
func (s *ChartStore) Status(ctx context.Context, id int64) (*StatusEntry, error) {
	if s.rdb != nil {
		val, err := s.rdb.Get(ctx, statusKey(id)).Result()
		if err == nil {
			var entry StatusEntry
			if jsonErr := json.Unmarshal([]byte(val), &entry); jsonErr == nil {
				return &entry, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("Status cache read failed", map[string]interface{}{
				"chartId": id,
				"error":   err,
			})
		}
	}

	var status, execMessage string
	err := s.db.QueryRowContext(ctx, `SELECT status, exec_message FROM chart WHERE id = $1`, id).Scan(&status, &execMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewChartNotFoundError(id)
	}
	if err != nil {
		return nil, errs.NewDatabaseQueryFailedError("get status", err)
	}

	entry := StatusEntry{Status: chart.Status(status), ExecMessage: execMessage}
	s.cacheStatus(ctx, id, entry)
	return &entry, nil
}

func (s *ChartStore) cacheStatus(ctx context.Context, id int64, entry StatusEntry) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, statusKey(id), data, s.ttl).Err(); err != nil {
		s.logger.Warn("Status cache write failed", map[string]interface{}{
			"chartId": id,
			"error":   err,
		})
	}
}

func statusKey(id int64) string {
	return statusKeyPrefix + strconv.FormatInt(id, 10)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChart reads selectColumns, or listColumns when withData is false.
func scanChart(row rowScanner, withData bool) (*Chart, error) {
	var c Chart
	var chartType, status string
	dest := []interface{}{&c.ID, &c.UserID, &c.Goal, &c.Name, &chartType, &c.DataFilename}
	if withData {
		dest = append(dest, &c.ChartData)
	}
	dest = append(dest, &c.GenChart, &c.GenResult, &status, &c.ExecMessage, &c.CreatedAt, &c.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.ChartType = chart.ChartType(chartType)
	c.Status = chart.Status(status)
	return &c, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.NewDatabaseQueryFailedError("rows affected", err)
	}
	if n == 0 {
		return errs.NewChartNotFoundError(id)
	}
	return nil
}

// Option parses the stored chart code; ok is false when there is nothing to render.
func (c *Chart) Option() (chart.ChartOption, bool) {
	if c.Status != chart.StatusSucceed {
		return nil, false
	}
	opt, err := chart.ParseChartCode(c.GenChart)
	if err != nil {
		return nil, false
	}
	return opt, true
}

func (c *Chart) String() string {
	return fmt.Sprintf("chart#%d(%s, %s)", c.ID, c.Name, c.Status)
}
