package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zakeri-dev/kbpipe/internal/bootstrap"
	"github.com/zakeri-dev/kbpipe/internal/config"
	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/dispatch/temporalx"
)

const (
	serviceName       = "worker"
	queueDepthRefresh = 15 * time.Second
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, serviceName, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	go func() {
		if err := temporalx.RunWorker(ctx, app.TemporalConfig, app.Processor, cfg.TemporalActivityTimeout, app.Logger); err != nil {
			app.Logger.Error("temporal_worker_stopped", "error", err)
		}
	}()

	metricsServer := startMetricsServer(app, cfg.WorkerMetricsPort)
	go pollQueueDepth(ctx, app)

	handler := func(jobCtx context.Context, job domain.Job) error {
		app.WorkerMetrics.ObserveQueueLag(serviceName, time.Since(job.EnqueuedAt))
		return app.Orchestrator.HandleJob(jobCtx, job)
	}

	app.Logger.Info("worker_consuming", "concurrency", cfg.QueueConcurrency)
	if err := app.Queue.ProcessJobs(ctx, handler); err != nil {
		app.Logger.Error("worker_consumer_error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("metrics_shutdown_error", "error", err)
	}
}

func startMetricsServer(app *bootstrap.App, port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", app.WorkerMetrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		app.Logger.Info("worker_metrics_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	return server
}

// pollQueueDepth snapshots queue stats into gauges. Polling keeps the queue
// implementation free of metric wiring.
func pollQueueDepth(ctx context.Context, app *bootstrap.App) {
	ticker := time.NewTicker(queueDepthRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := app.Queue.Stats(ctx)
			app.WorkerMetrics.SetQueueDepth(serviceName, stats.Backend, stats.Pending, stats.Processing)
			app.WorkerMetrics.SetQueueTotals(serviceName, stats.Backend, stats.RetriedTotal, stats.DroppedTotal)
		}
	}
}
