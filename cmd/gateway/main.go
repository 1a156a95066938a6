package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/relaygate/relaygate/internal/archive"
	"github.com/relaygate/relaygate/internal/credential"
	"github.com/relaygate/relaygate/internal/delivery"
	"github.com/relaygate/relaygate/internal/ingest"
	"github.com/relaygate/relaygate/internal/jobs"
	"github.com/relaygate/relaygate/internal/platform/config"
	"github.com/relaygate/relaygate/internal/platform/database"
	"github.com/relaygate/relaygate/internal/platform/logger"
	"github.com/relaygate/relaygate/internal/platform/messagebroker"
	"github.com/relaygate/relaygate/internal/platform/redisconn"
	"github.com/relaygate/relaygate/internal/provider"
	transporthttp "github.com/relaygate/relaygate/internal/transport/http"
)

const (
	serviceName     = "gateway"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, os.Stdout).With("service", serviceName)
	log.Info("starting service")

	rdb, err := redisconn.New(mainCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	log.Info("redis connection initialized", "addr", cfg.RedisAddr)

	var archiveRepo archive.Repository
	if cfg.PostgresDSN != "" {
		dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to initialize database pool", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		archiveRepo = archive.NewPgRepository(dbPool)
		log.Info("delivery archive enabled")
	}

	var publisher ingest.Publisher
	if cfg.NATSUrl != "" {
		natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, log)
		if err != nil {
			log.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = natsClient
		log.Info("NATS connection initialized", "url", cfg.NATSUrl)
	}

	var providerClient provider.Client
	if cfg.ProviderBaseURL != "" {
		providerClient = provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	} else {
		log.Warn("no provider base url configured, using mock provider")
		providerClient = provider.NewMockClient(log, 7200)
	}

	jobClient := jobs.NewClient(rdb)
	jobServer := jobs.NewServer(rdb, log, map[string]int{
		jobs.QueuePlatform:    cfg.PlatformWorkers,
		jobs.QueueSchedule:    cfg.ScheduleWorkers,
		jobs.QueueMessage:     cfg.MessageWorkers,
		jobs.QueueMessageHigh: cfg.MessageHighWorkers,
	}, cfg.JobPollInterval)

	messageQueue := ingest.NewMessageQueue(rdb)
	eventQueue := ingest.NewEventQueue(rdb)

	credStore := credential.NewStore(rdb)
	refresher := credential.NewRefresher(credStore, providerClient, jobClient, eventQueue, log, cfg.CredentialMargin)
	refresher.Register(jobServer)
	guard := credential.NewGuard(jobClient, log, cfg.GuardInterval)

	tracker := delivery.NewTracker(rdb)
	scheduler := delivery.NewScheduler(tracker, jobClient, log, cfg.StatusRetention)
	sender := delivery.NewSender(tracker, credStore, providerClient, jobClient, archiveRepo, log)
	sender.Register(jobServer)

	pump := ingest.NewPump(messageQueue, eventQueue, sender, publisher, log, cfg.PumpPollInterval)

	validate := validator.New()
	messageHandler := transporthttp.NewMessageHandler(scheduler, log, validate)
	platformHandler := transporthttp.NewPlatformHandler(jobClient, messageQueue, eventQueue, log, validate)
	router := transporthttp.NewRouter(messageHandler, platformHandler)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		return jobServer.Run(groupCtx)
	})
	g.Go(func() error {
		return guard.Run(groupCtx)
	})
	g.Go(func() error {
		return pump.Run(groupCtx)
	})
	g.Go(func() error {
		log.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	log.Info("service ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("received termination signal", "signal", sig.String())
	case <-groupCtx.Done():
	}
	mainCancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown finished with error", "error", err)
		os.Exit(1)
	}
	log.Info("service shutdown complete")
}
