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

	"relay/internal/config"
	"relay/internal/httpapi"
	"relay/internal/logging"
	"relay/internal/oauth"
	"relay/internal/observability"
	"relay/internal/providers/slack"
	"relay/internal/service"
	"relay/internal/store/pg"
	"relay/internal/util"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
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

	scheduleGrace, err := time.ParseDuration(cfg.ScheduleGrace)
	if err != nil {
		slog.Error("invalid SCHEDULE_GRACE", "err", err)
		os.Exit(1)
	}

	st := pg.New(db)
	oauthClient := &oauth.Client{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURL:  cfg.SlackRedirectURL,
		BaseURL:      cfg.SlackBaseURL,
		HTTP:         &http.Client{Timeout: 8 * time.Second},
	}
	slackClient := &slack.Client{
		BaseURL: cfg.SlackBaseURL,
		HTTP:    &http.Client{Timeout: 8 * time.Second},
	}
	refresher := &oauth.Refresher{Store: st, Client: oauthClient}
	svc := &service.SchedulerService{Store: st}

	s := httpapi.New()
	api := &httpapi.API{
		Svc:           svc,
		OAuth:         oauthClient,
		Slack:         slackClient,
		Tokens:        refresher,
		IDGen:         util.NewDeliveryID,
		FrontendURL:   cfg.FrontendURL,
		AuthBaseURL:   cfg.SlackBaseURL,
		ScheduleGrace: scheduleGrace,
	}
	api.Register(s.Router)
	s.Router.HandleFunc("/healthz", httpapi.Healthz())
	s.Router.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
	))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.Logging(s.Router),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("api shutdown", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
