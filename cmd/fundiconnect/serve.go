package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fundiconnect/internal/auth"
	bookings_http "fundiconnect/internal/handler/http/bookings"
	kafka_handler "fundiconnect/internal/handler/kafka"
	"fundiconnect/internal/infrastructure/database"
	"fundiconnect/internal/obs"
	"fundiconnect/internal/sweeper"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhooks, sweeper, outbox processor and dispute consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func runServe(skipMigrations bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("FundiConnect service starting...", zap.String("version", version))

	ctxMain, cancelMain := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelMain()

	shutdownTracer, err := obs.InitTracer(ctxMain, "fundiconnect", version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("Tracer shutdown failed", zap.Error(err))
		}
	}()

	a, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if !skipMigrations {
		logger.Info("Running database migrations...")
		if err := database.RunMigrations(cfg.DB.MigrationsPath, dbConfig(cfg), logger); err != nil {
			return err
		}
	}

	disputeHandler := kafka_handler.DisputeResolvedMessageHandler(
		a.coordinator,
		logger.With(zap.String("component", "dispute_handler")),
	)
	if err := a.withEvents(ctxMain, disputeHandler); err != nil {
		return err
	}

	var wg sync.WaitGroup
	router := bookings_http.NewRouter(bookings_http.Options{
		Coordinator: a.coordinator,
		Verifier:    auth.NewVerifier(cfg.JWTSecret),
		Webhooks: bookings_http.WebhookConfig{
			WhatsAppVerifyToken: cfg.WhatsApp.VerifyToken,
			WhatsAppAppSecret:   cfg.WhatsApp.AppSecret,
			PaystackSecretKey:   cfg.Paystack.SecretKey,
		},
		CORSOrigins: cfg.CORSAllowedOrigins,
		Gatherer:    a.registry,
		Metrics:     a.metrics,
		Logger:      logger.With(zap.String("component", "http")),
		Background:  &wg,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.outbox.Run(ctxMain)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.New(a.coordinator, cfg.SweepInterval, logger).Run(ctxMain)
	}()

	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Starting dispute resolution consumer...")
			if err := a.consumer.Consume(ctxMain); err != nil &&
				!errors.Is(err, context.Canceled) && !errors.Is(err, kafka.ErrGroupClosed) {
				logger.Error("Dispute resolution consumer failed", zap.Error(err))
			}
			logger.Info("Dispute resolution consumer stopped")
		}()
	}

	var runErr error
	select {
	case <-ctxMain.Done():
		logger.Info("Shutting down application...")
	case runErr = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(runErr))
		cancelMain()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("HTTP server gracefully shut down")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Background workers did not stop before the shutdown deadline")
	}

	logger.Info("Application gracefully shut down")
	return runErr
}
