package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopmesh/ordering-service/internal/db"
	"github.com/shopmesh/ordering-service/internal/logger"
	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/repository"
	"github.com/shopmesh/ordering-service/internal/webhook"
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Run the webhook worker (delivers order events to subscribers)",
	RunE:  runWebhooks,
}

// order events worth telling the outside world about
var webhookEventTypes = []string{
	model.EventOrderSubmitted,
	model.EventOrderConfirmed,
	model.EventOrderPaid,
	model.EventOrderShipped,
	model.EventOrderCancelled,
}

func runWebhooks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := connectBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	dispatcher := webhook.NewDispatcher(
		repository.NewWebhooksRepository(pgDB),
		webhook.BreakerConfig{
			FailureThreshold:    cfg.Webhooks.Breaker.FailThreshold,
			ResetTimeout:        time.Duration(cfg.Webhooks.Breaker.OpenForMs) * time.Millisecond,
			HalfOpenMaxAttempts: cfg.Webhooks.Breaker.HalfOpenMaxAttempts,
		},
		time.Duration(cfg.Webhooks.TimeoutMs)*time.Millisecond,
		logger.Log,
	)

	for _, eventType := range webhookEventTypes {
		if err := bus.Subscribe(eventType, dispatcher.Handler(), "webhooks."+eventType); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	log.Println("webhook worker running")
	waitForSignal()
	cancel()

	return nil
}
