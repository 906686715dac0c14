// cmd/bi-server/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bi-workers/internal/common/bi"
	"bi-workers/internal/common/camunda"
	"bi-workers/internal/common/config"
	"bi-workers/internal/common/database"
	"bi-workers/internal/common/logger"
	"bi-workers/internal/common/metrics"
	"bi-workers/internal/common/observability"
	"bi-workers/internal/store"
	"bi-workers/internal/upload"
	"bi-workers/internal/web"
	genchart "bi-workers/internal/workers/analytics/gen-chart"
)

const (
	sessionSweepInterval = 10 * time.Minute
	sessionMaxIdle       = time.Hour
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog = logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting BI server...",
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()
	var readiness []readinessCheck

	// --- Chart store: PostgreSQL + optional Redis status cache ---
	var charts *store.ChartStore
	if cfg.StoreEnabled() {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		if err := pg.Migrate(ctx, store.Schema...); err != nil {
			zapLog.Fatal("chart schema migration failed", zap.Error(err))
		}
		zapLog.Info("PostgreSQL connected successfully")
		readiness = append(readiness, readinessCheck{name: "postgres", check: pg.Ping})

		var rdb *database.RedisClient
		if cfg.CacheEnabled() {
			rdb = database.NewRedis(cfg.Database.Redis)
			err = retryWithBackoff(func() error {
				return rdb.Ping(ctx)
			}, 10, 2*time.Second, zapLog, "Redis connection")
			if err != nil {
				zapLog.Fatal("redis failed after retries", zap.Error(err))
			}
			defer rdb.Close()
			zapLog.Info("Redis connected successfully")
			readiness = append(readiness, readinessCheck{name: "redis", check: rdb.Ping})
		}

		statusTTL := time.Duration(cfg.Database.Redis.StatusTTL) * time.Second
		if rdb != nil {
			charts = store.NewChartStore(pg.GetDB(), rdb.GetClient(), statusTTL, log)
		} else {
			charts = store.NewChartStore(pg.GetDB(), nil, statusTTL, log)
		}
	}

	// --- Async generation: Zeebe dispatcher + gen-chart worker ---
	var (
		zeebe      *camunda.Client
		dispatcher *camunda.Dispatcher
		genWorker  *camunda.CamundaWorker
	)
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")
		readiness = append(readiness, readinessCheck{name: "zeebe", check: zeebe.HealthCheck})

		if cfg.Camunda.DeployProcess {
			key, err := zeebe.Deploy(ctx, genchart.ProcessResourceName, genchart.ProcessDefinition)
			if err != nil {
				zapLog.Fatal("process deployment failed", zap.Error(err))
			}
			zapLog.Info("Process deployed", zap.String("resource", genchart.ProcessResourceName), zap.Int64("deploymentKey", key))
		}

		dispatcher = camunda.NewDispatcher(zeebe, cfg.Camunda.ProcessID)

		if config.IsWorkerEnabled(cfg, genchart.TaskType) {
			wc := genchart.LoadConfig(cfg)
			handler := genchart.NewHandler(wc, charts, bi.NewClientWithRetries(cfg.BI, wc.MaxRetries, log), log).
				WithObservability(obs)
			genWorker = camunda.NewWorker(zeebe.GetClient(), wc.WorkerOptions(), handler, log)
		} else {
			zapLog.Info("worker disabled", zap.String("taskType", genchart.TaskType))
		}
	}

	// --- Web dashboard ---
	deps := web.Deps{
		Config:    cfg,
		Generator: bi.NewClient(cfg.BI, log),
		Inspector: upload.NewInspector(cfg.Upload),
		Recorder:  metrics.NewSubmissionRecorder(obs),
		Logger:    log,
	}
	if charts != nil {
		deps.Charts = charts
		deps.History = charts
	}
	if dispatcher != nil {
		deps.Dispatcher = dispatcher
	}

	dashboard, err := web.NewServer(deps)
	if err != nil {
		zapLog.Fatal("web server init failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /readyz", readyHandler(readiness))
	mux.Handle("GET "+cfg.Server.MetricsPath, promhttp.Handler())
	mux.Handle("/", dashboard.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := dashboard.Sessions().Sweep(sessionMaxIdle); n > 0 {
					zapLog.Debug("idle sessions dropped", zap.Int("count", n))
				}
			case <-sweepDone:
				return
			}
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	close(sweepDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	if genWorker != nil {
		genWorker.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}

	zapLog.Info("BI server stopped gracefully")
}

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

func readyHandler(checks []readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		result := map[string]string{"time": time.Now().Format(time.RFC3339)}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				result[c.name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[c.name] = "ok"
		}
		if status == http.StatusOK {
			result["status"] = "ready"
		} else {
			result["status"] = "not ready"
		}
		writeStatus(w, status, result)
	}
}

func writeStatus(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
