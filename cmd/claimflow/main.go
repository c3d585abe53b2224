package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/claimflow/archive"
	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/clients/rest"
	"github.com/songzhibin97/claimflow/clients/simulated"
	"github.com/songzhibin97/claimflow/config"
	"github.com/songzhibin97/claimflow/events"
	"github.com/songzhibin97/claimflow/log"
	"github.com/songzhibin97/claimflow/server"
	"github.com/songzhibin97/claimflow/storage"
	"github.com/songzhibin97/claimflow/workflow"
)

const (
	appName    = "claimflow"
	appVersion = "0.1.0"
)

type claimflow struct {
	cfg        *config.Config
	store      storage.Storage
	closeStore func() error
	claims     clients.ClaimStore
	archive    *archive.Bucket
	engine     *workflow.ClaimEngine
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrCreateStorage = errors.New("failed to create instance storage")
	ErrCreateClaims  = errors.New("failed to create claim store client")
	ErrOpenArchive   = errors.New("failed to open archive bucket")
	ErrCreateEngine  = errors.New("failed to create claim engine")
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &claimflow{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *claimflow) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}
	defer s.closeStores()

	if err := s.initializeEngine(); err != nil {
		return err
	}
	s.startServer()

	ctx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go s.pruneLoop(ctx)

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	stopPrune()
	s.shutdown()
	return nil
}

func (s *claimflow) setupLogging() {
	level := log.ParseLevel(s.cfg.LogLevel)
	logger := log.NewWithLevel(appName, os.Getenv("ENV"), appVersion, level)
	slog.SetDefault(logger)

	slog.Info("Claimflow starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.Redis.Addr),
		slog.Int("redis_db", s.cfg.Redis.DB),
		slog.String("claim_store_url", s.cfg.ClaimStoreURL),
		slog.String("archive_url", s.cfg.ArchiveURL),
		slog.String("fraud_reject_rule", s.cfg.FraudRejectRule),
		slog.String("fraud_reject_threshold", s.cfg.FraudRejectThreshold.String()),
		slog.String("payment_hard_cap", s.cfg.PaymentHardCap.String()),
		slog.Bool("manual_review", s.cfg.ManualReviewMediumRisk),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *claimflow) initializeStores() error {
	if s.cfg.Redis.Addr != "" {
		rs, err := storage.NewRedisStorage(storage.RedisOptions{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     10,
			MinIdleConns: 2,
			IdleTimeout:  5 * time.Minute,
			Prefix:       s.cfg.Redis.Prefix,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCreateStorage, err)
		}
		s.store = rs
		s.closeStore = rs.Close
	} else {
		slog.Warn("REDIS_ADDR not set, instances are kept in memory")
		s.store = storage.NewMemoryStorage()
	}

	if s.cfg.ClaimStoreURL != "" {
		rc, err := rest.NewClaimStore(s.cfg.ClaimStoreURL)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCreateClaims, err)
		}
		s.claims = rc
	} else {
		slog.Warn("CLAIM_STORE_URL not set, using the simulated claim store")
		s.claims = simulated.NewClaimStore()
	}

	if s.cfg.ArchiveURL != "" {
		b, err := archive.Open(context.Background(), s.cfg.ArchiveURL, s.cfg.ArchivePrefix)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		s.archive = b
	}
	return nil
}

func (s *claimflow) initializeEngine() error {
	opts := []workflow.Option{
		workflow.WithLogger(slog.Default()),
		workflow.WithRetryPolicy(workflow.RetryPolicy{
			MaxAttempts: s.cfg.Retry.MaxAttempts,
			InitBackoff: s.cfg.Retry.InitBackoff,
			MaxBackoff:  s.cfg.Retry.MaxBackoff,
			Timeout:     s.cfg.StepTimeout,
		}),
		workflow.WithThresholds(workflow.Thresholds{
			FraudHighRiskRejectThreshold: s.cfg.FraudRejectThreshold,
			PaymentHardCap:               s.cfg.PaymentHardCap,
		}),
		workflow.WithFraudRule(s.cfg.FraudRejectRule),
		workflow.WithManualReview(s.cfg.ManualReviewMediumRisk),
	}
	if s.archive != nil {
		opts = append(opts, workflow.WithArchiver(s.archive))
	}

	snowflake := generator.NewSnowflake(time.Now().Add(-1*time.Second), 1)
	eng, err := workflow.NewClaimEngine(
		snowflake, s.store, simulated.NewSet(s.claims), opts...,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateEngine, err)
	}

	eng.SubscribeEvent(events.StatusPushFailed, events.HandlerFunc(
		func(_ context.Context, ev events.Event) error {
			slog.Error("Claim needs status reconciliation",
				log.ProcessID(ev.ProcessInstanceID),
				log.ClaimID(ev.BusinessKey),
				slog.Any("status", ev.Data["status"]),
				slog.Any("error", ev.Data["error"]))
			return nil
		}))
	eng.SubscribeEvent(events.InstanceTerminated, events.HandlerFunc(
		func(_ context.Context, ev events.Event) error {
			slog.Debug("Instance terminated",
				log.ProcessID(ev.ProcessInstanceID),
				log.ClaimID(ev.BusinessKey),
				slog.Any("status", ev.Data["status"]))
			return nil
		}))

	s.engine = eng
	return nil
}

func (s *claimflow) startServer() {
	s.httpServer = &http.Server{
		Addr:              s.cfg.APIAddr(),
		Handler:           server.New(s.engine, s.claims, slog.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *claimflow) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.engine.PruneFinished(ctx)
			if err != nil {
				slog.Warn("Prune failed", log.Error(err))
				continue
			}
			if n > 0 {
				slog.Info("Pruned finished instances", slog.Int("count", n))
			}
		}
	}
}

func (s *claimflow) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}
	if err := s.engine.Stop(ctx); err != nil {
		slog.Warn("Engine stopped with runs in flight, they resume on Advance",
			log.Error(err))
	}
	slog.Info("Shutdown complete")
}

func (s *claimflow) closeStores() {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			slog.Warn("Failed to close archive", log.Error(err))
		}
	}
	if s.closeStore != nil {
		if err := s.closeStore(); err != nil {
			slog.Warn("Failed to close storage", log.Error(err))
		}
	}
}
