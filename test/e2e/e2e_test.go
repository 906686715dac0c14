//go:build e2e

// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bi-workers/internal/chart"
	"bi-workers/internal/common/bi"
	"bi-workers/internal/common/camunda"
	"bi-workers/internal/common/config"
	"bi-workers/internal/common/database"
	"bi-workers/internal/common/logger"
	"bi-workers/internal/store"
	genchart "bi-workers/internal/workers/analytics/gen-chart"
)

var zeebeClient *camunda.Client

func TestMain(m *testing.M) {
	address := os.Getenv("ZEEBE_ADDRESS")
	if address == "" {
		address = "localhost:26500"
	}

	var err error
	zeebeClient, err = camunda.NewClient(address, 10*time.Second)
	if err != nil {
		panic(fmt.Sprintf("❌ Failed to connect to Zeebe: %v", err))
	}

	code := m.Run()

	zeebeClient.Close()
	os.Exit(code)
}

// fakeBI answers like the chart backend: a line chart for every request,
// except goal "explode" which yields unparseable chart code.
func fakeBI(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		code := `{"xAxis":{"type":"category","data":["1月","2月"]},"series":[{"type":"line","data":[10,20]}]}`
		if r.FormValue("goal") == "explode" {
			code = "not json"
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{"genChart": code, "genResult": "用户持续增长"},
		})
	}))
}

func TestGenChartProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	require.NoError(t, err)

	t.Log("🚀 Starting gen-chart E2E test with real services...")

	// 1. Connectivity
	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "❌ PostgreSQL connection failed")
	defer pg.Close()
	require.NoError(t, pg.Ping(ctx), "❌ PostgreSQL ping failed")
	t.Log("✅ PostgreSQL connected")

	rdb := database.NewRedis(cfg.Database.Redis)
	defer rdb.Close()
	require.NoError(t, rdb.Ping(ctx), "❌ Redis ping failed")
	t.Log("✅ Redis connected")

	require.NoError(t, zeebeClient.HealthCheck(ctx), "❌ Zeebe topology request failed")
	t.Log("✅ Zeebe connected")

	// 2. Schema
	require.NoError(t, pg.Migrate(ctx, store.Schema...))
	charts := store.NewChartStore(pg.GetDB(), rdb.GetClient(), time.Minute, logger.NewTestLogger(t))

	// 3. Deploy
	key, err := zeebeClient.Deploy(ctx, genchart.ProcessResourceName, genchart.ProcessDefinition)
	require.NoError(t, err)
	t.Logf("✅ Deployed %s (key %d)", genchart.ProcessResourceName, key)

	// 4. Worker against a fake BI backend
	backend := fakeBI(t)
	defer backend.Close()

	wc := &genchart.Config{Timeout: 10 * time.Second, MaxRetries: 0, MaxJobsActive: 2}
	generator := bi.NewClient(config.BIConfig{BaseURL: backend.URL, Timeout: 5000}, logger.NewTestLogger(t))
	handler := genchart.NewHandler(wc, charts, generator, logger.NewTestLogger(t))
	opts := wc.WorkerOptions()
	opts.PollInterval = 200 * time.Millisecond
	w := camunda.NewWorker(zeebeClient.GetClient(), opts, handler, logger.NewTestLogger(t))
	defer w.Stop()

	dispatcher := camunda.NewDispatcher(zeebeClient, cfg.Camunda.ProcessID)

	t.Run("succeeds", func(t *testing.T) {
		id := submit(ctx, t, charts, dispatcher, "Analyze growth")
		entry := awaitTerminal(ctx, t, charts, id)

		assert.Equal(t, chart.StatusSucceed, entry.Status)
		c, err := charts.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "用户持续增长", c.GenResult)
		_, ok := c.Option()
		assert.True(t, ok)
	})

	t.Run("fails on bad chart code", func(t *testing.T) {
		id := submit(ctx, t, charts, dispatcher, "explode")
		entry := awaitTerminal(ctx, t, charts, id)

		assert.Equal(t, chart.StatusFailed, entry.Status)
		assert.Equal(t, "分析失败,decode chart code: invalid character 'o' in literal null (expecting 'u')", entry.ExecMessage)
	})

	t.Log("✅ gen-chart E2E workflow successful")
}

func submit(ctx context.Context, t *testing.T, charts *store.ChartStore, d *camunda.Dispatcher, goal string) int64 {
	t.Helper()
	id, err := charts.Create(ctx, &store.Chart{
		UserID:       "e2e",
		Goal:         goal,
		Name:         "E2E Chart",
		ChartType:    chart.ChartTypeLine,
		DataFilename: "growth.csv",
		ChartData:    []byte("month,users\n1,10\n2,20\n"),
	})
	require.NoError(t, err)

	instance, err := d.StartGeneration(ctx, id)
	require.NoError(t, err)
	t.Logf("📄 chart %d -> process instance %d", id, instance)
	return id
}

func awaitTerminal(ctx context.Context, t *testing.T, charts *store.ChartStore, id int64) *store.StatusEntry {
	t.Helper()
	var entry *store.StatusEntry
	require.Eventually(t, func() bool {
		var err error
		entry, err = charts.Status(ctx, id)
		return err == nil && entry.Status.Terminal()
	}, time.Minute, 500*time.Millisecond)
	return entry
}
