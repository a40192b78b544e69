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

	httpadapter "github.com/zakeri-dev/kbpipe/internal/adapters/http"
	"github.com/zakeri-dev/kbpipe/internal/bootstrap"
	"github.com/zakeri-dev/kbpipe/internal/config"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "api", cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		httpadapter.Config{
			RateLimitRPS:     float64(cfg.APIRateLimitRPS),
			RateLimitBurst:   cfg.APIRateLimitBurst,
			MaxConcurrent:    cfg.APIMaxConcurrent,
			BackpressureWait: cfg.APIBackpressureWait,
		},
		app.Documents,
		app.Orchestrator,
		app.Lifecycle,
		app.Queue,
		app.ServerMetrics,
		app.Logger,
	)
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		app.Logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("api_shutdown_error", "error", err)
	}
}
