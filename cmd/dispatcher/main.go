package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"relay/internal/alert"
	"relay/internal/awsutil"
	"relay/internal/config"
	"relay/internal/dispatch"
	"relay/internal/httpapi"
	"relay/internal/logging"
	"relay/internal/oauth"
	"relay/internal/observability"
	"relay/internal/providers/slack"
	"relay/internal/store/pg"
)

func main() {
	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("dispatcher db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if err := pg.RunMigrations(db); err != nil {
		slog.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	scanInterval, err := time.ParseDuration(cfg.ScanInterval)
	if err != nil {
		slog.Error("invalid SCAN_INTERVAL", "err", err)
		os.Exit(1)
	}
	refreshMargin, err := time.ParseDuration(cfg.RefreshMargin)
	if err != nil {
		slog.Error("invalid REFRESH_MARGIN", "err", err)
		os.Exit(1)
	}

	st := pg.New(db)
	oauthClient := &oauth.Client{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		BaseURL:      cfg.SlackBaseURL,
		HTTP:         &http.Client{Timeout: 8 * time.Second},
	}
	slackClient := &slack.Client{
		BaseURL: cfg.SlackBaseURL,
		HTTP:    &http.Client{Timeout: 8 * time.Second},
	}
	refresher := &oauth.Refresher{Store: st, Client: oauthClient, Margin: refreshMargin}

	// Alerts are optional: only wired when a queue is configured.
	var alerts dispatch.AlertPublisher
	if cfg.AlertQueueURL != "" {
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("sqs client init failed", "err", err)
			os.Exit(1)
		}
		alerts = &alert.Publisher{SQS: sqsClient, QueueURL: cfg.AlertQueueURL}
	}

	engine := &dispatch.Engine{
		Store:   st,
		Tokens:  refresher,
		Sender:  slackClient,
		Alerts:  alerts,
		Limiter: rate.NewLimiter(rate.Limit(cfg.SlackRPS), cfg.SlackBurst),
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "slack",
			MaxRequests: 3,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		}),
		Interval:    scanInterval,
		Concurrency: cfg.DispatchConcurrency,
	}

	healthMux := httpapi.New()
	healthMux.Router.HandleFunc("/healthz", httpapi.Healthz())
	healthMux.Router.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
	))
	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.Logging(healthMux.Router),
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	runErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher starting", "interval", scanInterval, "concurrency", cfg.DispatchConcurrency)
		runErrCh <- engine.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("dispatcher run failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("dispatcher health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("dispatcher shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-runErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("dispatcher shutdown timeout waiting for scan loop")
	}
}
