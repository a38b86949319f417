package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/api"
	"github.com/smartfarm/dashboard-client/internal/devices"
	"github.com/smartfarm/dashboard-client/internal/engine"
	"github.com/smartfarm/dashboard-client/internal/metrics"
	"github.com/smartfarm/dashboard-client/internal/model"
	"github.com/smartfarm/dashboard-client/internal/push"
	"github.com/smartfarm/dashboard-client/internal/rules"
	"github.com/smartfarm/dashboard-client/internal/selection"
	"github.com/smartfarm/dashboard-client/internal/session"
	"github.com/smartfarm/dashboard-client/pkg/logger"
)

func main() {
	cfg := loadConfig()
	log := logger.Named("dashboard")
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := selection.NewStore(cfg.StateDir, logger.Named("selection"))

	// An invalid credential forces logout: drop the selection mirror and
	// shut the client down (the UI's redirect-to-login equivalent).
	sess := session.New(cfg.AuthToken, func() {
		log.Warn("session ended, shutting down")
		store.Clear()
		cancel()
	})

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	client := api.NewClient(api.Config{
		BaseURL:         cfg.APIBaseURL,
		Timeout:         time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond,
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerOpenFor:  time.Duration(cfg.BreakerOpenMs) * time.Millisecond,
		Token:           sess.Token,
		OnAuthFailure:   sess.Logout,
		Logger:          logger.Named("api"),
	})

	eng := engine.New(engine.Config{
		Store:    store,
		Fetcher:  client,
		Interval: time.Duration(cfg.PollIntervalS) * time.Second,
		Logger:   logger.Named("engine"),
		Metrics:  met,
	})
	go eng.Run(ctx)

	ch := push.New(push.Config{
		BrokerURL: cfg.BrokerURL,
		Session:   sess,
		Logger:    logger.Named("push"),
		Metrics:   met,
	})
	if err := ch.Start(ctx); err != nil {
		// Push is advisory; the poll loop still carries the dashboard.
		log.Warn("push channel unavailable", zap.Error(err))
	}
	defer ch.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch.Events():
				log.Info("system notification", zap.String("message", ev.Message))
			}
		}
	}()

	ruleRepo := rules.NewRepository(client, store, func() []model.Device {
		return eng.Snapshot().Devices
	}, eng.Refresh, logger.Named("rules"))
	devSvc := devices.NewService(client, store, eng.Refresh, logger.Named("devices"))

	srv := &server{
		store:   store,
		engine:  eng,
		rules:   ruleRepo,
		devices: devSvc,
		push:    ch,
		log:     log,
	}

	mux := http.NewServeMux()
	srv.routes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Info("dashboard surface listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("dashboard stopped")
}
