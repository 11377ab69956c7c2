package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ms-validation/internal/auth"
	"ms-validation/internal/cli/bootstrap"
	"ms-validation/internal/config"
	"ms-validation/internal/database"
	"ms-validation/internal/database/migrations"
	"ms-validation/internal/kafka"
	"ms-validation/internal/logger"
	"ms-validation/internal/sse"
	"ms-validation/internal/tickets/authz"
	ticket_db "ms-validation/internal/tickets/db"
	qr "ms-validation/internal/tickets/qr_codec"
	rediswrap "ms-validation/internal/tickets/redis"
	tickets "ms-validation/internal/tickets/service"
	"ms-validation/internal/tickets/ticket_api"
)

func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the validation HTTP server",
		Long:  `Start the HTTP API, the live validation feed and, when Kafka is enabled, the offline batch consumer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := bootstrap.Load("validation-service")
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("APP", "Starting Validation Service initialization")

	bunDB, err := database.ConnectPostgres(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	if cfg.Database.MigrationsAuto {
		runner, err := migrations.Open(cfg.Database.DSN, log)
		if err != nil {
			return err
		}
		err = runner.MigrateUp()
		if cerr := runner.Close(); cerr != nil {
			log.Warn("DATABASE", fmt.Sprintf("failed to close migration connection: %v", cerr))
		}
		if err != nil {
			return err
		}
	}

	codec, err := qr.NewCodec(cfg.QR.SecretKey)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to configure token verification: %w", err)
	}

	feed := sse.NewValidationEventEmitter()
	opts := []tickets.Option{
		tickets.WithFeed(feed),
		tickets.WithIdempotencyWindow(cfg.Validation.IdempotencyWindow),
	}

	if cfg.Redis.Enabled {
		redisClient, err := database.ConnectRedis(ctx, cfg.Redis, cfg.Database.ConnectRetries, log)
		if err != nil {
			log.Warn("REDIS", fmt.Sprintf("scan velocity disabled: %v", err))
		} else {
			defer redisClient.Close()
			advisor := rediswrap.NewScanVelocity(redisClient, log, cfg.Validation.VelocityWindow, cfg.Validation.VelocityThreshold)
			opts = append(opts, tickets.WithAdvisor(advisor))
		}
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.TopicNames(cfg.Kafka.Topics), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
		opts = append(opts, tickets.WithPublisher(producer))
	}

	store := ticket_db.New(bunDB, cfg.Validation.LockTimeout)
	service := tickets.NewValidationService(store, codec, authz.NewResolver(), log, opts...)

	handler := ticket_api.NewHandler(service, feed, log)
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     NewRouter(handler, verifier, log),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("Validation Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if producer != nil {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.OfflineBatches, cfg.Kafka.GroupID, log)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Start(gctx, kafka.OfflineBatchHandler(service, validator.New(), log))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Info("HTTP", "Validation Service shutdown complete")
		return nil
	})

	return g.Wait()
}
