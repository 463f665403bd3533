package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/config"
	"github.com/shopmesh/ordering-service/internal/db"
	"github.com/shopmesh/ordering-service/internal/eventbus"
	httpSrv "github.com/shopmesh/ordering-service/internal/http"
	"github.com/shopmesh/ordering-service/internal/logger"
	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/outbox"
	"github.com/shopmesh/ordering-service/internal/repository"
	"github.com/shopmesh/ordering-service/internal/saga"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server, saga consumers and outbox processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(logLevel)

		pgDB, err := db.NewPostgresConnection(cfg.Postgres.DSN, db.PostgresOpts{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
			PingTimeout:     cfg.Postgres.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer pgDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		bus := eventbus.New(cfg.AMQP.URL, eventbus.Options{
			Exchange:       cfg.AMQP.Exchange,
			MaxRetries:     cfg.AMQP.MaxRetries,
			RetryDelay:     cfg.AMQP.RetryDelay,
			Prefetch:       cfg.AMQP.Prefetch,
			ReconnectDelay: cfg.AMQP.ReconnectDelay,
		}, logger.Log)

		outboxStore := outbox.NewStore(pgDB)
		ordersRepo := repository.NewOrdersRepository(pgDB)
		summariesRepo := repository.NewSummariesRepository(pgDB)
		orch := saga.NewOrchestrator(pgDB, ordersRepo, outboxStore, logger.Log)
		projector := saga.NewProjector(summariesRepo, logger.Log)

		// The HTTP surface stays up even if the broker is down: reads and
		// status updates keep working, checkout answers 503 until the bus
		// reconnects.
		busErr := bus.ConnectWithRetry(ctx, cfg.AMQP.ConnectAttempts, cfg.AMQP.ReconnectDelay)
		if busErr != nil {
			logger.Log.Error("event bus unavailable, serving degraded", zap.Error(busErr))
		} else {
			if err := subscribeSaga(bus, pgDB, orch, projector); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}

			processor := outbox.NewProcessor(outboxStore, bus, logger.Log, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
			go processor.Run(ctx)
		}

		server := httpSrv.NewServer(cfg, pgDB, redisClient, bus, orch)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		cancel()

		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		_ = server.Shutdown(shCtx)
		_ = bus.Close()

		return nil
	},
}

// subscribeSaga binds the orchestrator and the projector to their queues.
// Saga handlers are wrapped by the transactional idempotency layer; the
// projector is convergent on its own and subscribes bare.
func subscribeSaga(bus *eventbus.EventBus, pgDB *sqlx.DB, orch *saga.Orchestrator, projector *saga.Projector) error {
	if err := bus.Subscribe(model.EventBasketCheckout,
		eventbus.Idempotent(pgDB, orch.HandleBasketCheckout),
		"ordering.saga.basket.checkout"); err != nil {
		return err
	}

	for _, eventType := range orch.EventTypes() {
		if err := bus.Subscribe(eventType,
			eventbus.Idempotent(pgDB, orch.Handle),
			"ordering.saga."+eventType); err != nil {
			return err
		}
	}

	for _, eventType := range saga.ProjectedEventTypes {
		if err := bus.Subscribe(eventType, projector.Handle, "ordering.summary."+eventType); err != nil {
			return err
		}
	}

	return nil
}
