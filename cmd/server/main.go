package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"turnstile/internal/gate"
	"turnstile/internal/platform/config"
	"turnstile/internal/platform/httpserver"
	"turnstile/internal/platform/logger"
	platformredis "turnstile/internal/platform/redis"
	"turnstile/internal/ratelimit"
	"turnstile/internal/respcache"
	"turnstile/internal/scanqueue"
	"turnstile/internal/syncer"
	ticketstore "turnstile/internal/ticket/store"
	ticketmemory "turnstile/internal/ticket/store/memory"
	ticketpostgres "turnstile/internal/ticket/store/postgres"
	httptransport "turnstile/internal/transport/http"
	"turnstile/internal/webhook"
	"turnstile/pkg/platform/backoff"
	"turnstile/pkg/platform/circuit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Server.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()

	tickets, cleanupTickets, err := buildTicketStore(ctx, cfg.Postgres)
	if err != nil {
		log.Error("ticket store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanupTickets()

	queueStore, cleanupQueue, err := buildQueueStore(cfg.Queue)
	if err != nil {
		log.Error("queue store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanupQueue()

	queue, err := scanqueue.NewService(queueStore, scanqueue.NewSnapshotCache(),
		scanqueue.WithLogger(log), scanqueue.WithMetrics(scanqueue.NewMetrics(registry)))
	if err != nil {
		log.Error("queue service init failed", "error", err)
		os.Exit(1)
	}

	gateSvc, err := gate.New(tickets, queue, gate.WithLogger(log))
	if err != nil {
		log.Error("gate service init failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var nonces webhook.NonceStore = webhook.NewMemoryNonceStore()
	var cache respcache.Cache = respcache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	if redisClient != nil {
		nonces = webhook.NewRedisNonceStore(redisClient.Client)
		cache = respcache.NewRedisCache(redisClient.Client, cfg.Cache.TTL)
	}

	webhookMetrics := webhook.NewMetrics(registry)
	alerts := webhook.NewAlertTracker(cfg.Webhook.AlertThreshold, cfg.Webhook.AlertWindow, log, webhookMetrics)
	authenticator, err := webhook.NewAuthenticator(cfg.Webhook.Secret,
		cfg.Webhook.FreshnessWindow, cfg.Webhook.ClockSkew, cfg.Webhook.ReplayRetention,
		nonces,
		webhook.WithLogger(log),
		webhook.WithMetrics(webhookMetrics),
		webhook.WithAlertTracker(alerts))
	if err != nil {
		log.Error("webhook authenticator init failed", "error", err)
		os.Exit(1)
	}

	coordinator, err := syncer.New(queue, tickets, syncer.Config{
		Workers:    cfg.Sync.Workers,
		BatchSize:  cfg.Sync.BatchSize,
		Interval:   cfg.Sync.Interval,
		PurgeAfter: cfg.Sync.PurgeAfter,
		Retry: backoff.Policy{
			MaxAttempts:     cfg.Sync.MaxAttempts,
			InitialInterval: cfg.Sync.InitialInterval,
			MaxInterval:     cfg.Sync.MaxInterval,
			Multiplier:      2.0,
		},
	},
		syncer.WithLogger(log),
		syncer.WithMetrics(syncer.NewMetrics(registry)),
		syncer.WithBreaker(circuit.New("remote-store")))
	if err != nil {
		log.Error("sync coordinator init failed", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sync coordinator stopped", "error", err)
		}
	}()

	router := httptransport.NewRouter(httptransport.Deps{
		Gate:     gateSvc,
		Webhooks: webhook.NewHandler(authenticator, tickets, log, webhookMetrics),
		Limiter:  ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		Cache:    cache,
		Logger:   log,
		Registry: registry,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
}

func buildTicketStore(ctx context.Context, cfg config.Postgres) (ticketstore.Store, func(), error) {
	if cfg.DSN == "" {
		return ticketmemory.New(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	store := ticketpostgres.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func buildQueueStore(cfg config.Queue) (scanqueue.Store, func(), error) {
	if cfg.SQLitePath == "" {
		return scanqueue.NewInMemoryStore(), func() {}, nil
	}

	store, err := scanqueue.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
