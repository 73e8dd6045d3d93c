package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/api"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/approval"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/cache"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/commission"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/consumer"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/database"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/events"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/logger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/processor"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/publisher"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/rules"
	cacheSync "github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/sync"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logger.New()
	cfg := config.Load()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer db.Close()

	// Balance cache: Redis when replicas share it, process memory otherwise
	var balances cache.BalanceCache = cache.NewMemoryCache()
	if cfg.Redis.Enabled {
		rdb, err := cache.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		defer rdb.Close()
		balances = cache.NewRedisCache(rdb, cfg.Redis.TTL, log)
	}

	// Domain events
	var publishers events.Fanout
	if cfg.Rabbit.PublishEvents {
		pub, err := publisher.New(cfg.Rabbit, log)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize event publisher")
		}
		defer pub.Close()
		publishers = append(publishers, pub)
	}

	system := ledger.SystemAccounts{Platform: cfg.Ledger.PlatformAccount, Escrow: cfg.Ledger.EscrowAccount}
	store := ledger.NewWalletStore(db.DB, publishers, balances, system, log)

	bootCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.OpTimeout)
	err = store.Bootstrap(bootCtx)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to bootstrap system accounts")
	}

	ruleSvc := rules.NewService(db.DB, rules.Defaults(cfg.Ledger), log)
	engine := commission.NewEngine(store, ruleSvc, approval.NewCampaignEscrow(db.DB, log), log)
	gate := approval.NewGate(db.DB, store, engine, ruleSvc, publishers, log)

	// Start cache synchronizer goroutine
	go cacheSync.SyncCache(
		ctx,
		repository.NewWalletRepository(db.DB, log),
		repository.NewEntryRepository(db.DB, log),
		balances,
		cfg.Sync.BatchSize,
		cfg.Sync.Interval,
		log,
	)

	// Queued intents from the admin backend
	if cfg.Rabbit.ConsumeIntake {
		intents := make(chan processor.IncomingIntent, cfg.Rabbit.Prefetch)

		processor.StartProcessorPool(
			ctx,
			processor.NewLedgerHandler(gate, engine, log),
			intents,
			cfg.Rabbit.Workers,
			cfg.Processor,
			log,
		)

		rmqConsumer, err := consumer.New(cfg.Rabbit, log, intents)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize RabbitMQ consumer")
		}
		defer rmqConsumer.Close()

		go func() {
			if err := rmqConsumer.Start(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("consumer stopped unexpectedly")
				stop()
			}
		}()
	}

	app := api.NewApp(cfg.HTTP, api.NewHandler(store, gate, ruleSvc, log), log)
	go func() {
		log.WithField("port", cfg.HTTP.Port).Info("HTTP server listening")
		if err := app.Listen(":" + cfg.HTTP.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	log.Info("graceful shutdown complete")
}
