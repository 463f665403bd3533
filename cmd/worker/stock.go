package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/db"
	"github.com/shopmesh/ordering-service/internal/eventbus"
	"github.com/shopmesh/ordering-service/internal/logger"
	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/outbox"
	"github.com/shopmesh/ordering-service/internal/repository"
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Run the stock worker (validates and decrements catalog stock)",
	RunE:  runStock,
}

// runStock starts the catalog-side consumer. Validation answers through the
// outbox so the stock check and its verdict event commit together; the
// decrement on order.paid is a plain idempotent write with no outbound event.
func runStock(cmd *cobra.Command, args []string) error {
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

	stockRepo := repository.NewStockRepository(pgDB)
	outboxStore := outbox.NewStore(pgDB)

	validate := func(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error {
		var payload model.OrderAwaitingValidationPayload
		if err := event.DecodePayload(&payload); err != nil || payload.OrderID == 0 {
			logger.Log.Warn("stock: undecodable validation payload, dropping",
				zap.String("event_id", event.ID), zap.Error(err))
			return nil
		}

		ids := make([]int64, 0, len(payload.Items))
		for _, it := range payload.Items {
			ids = append(ids, it.ProductID)
		}

		onHand, err := stockRepo.FindForUpdate(ctx, tx, ids)
		if err != nil {
			return fmt.Errorf("load stock: %w", err)
		}

		var rejected []model.RejectedItem
		for _, it := range payload.Items {
			p, ok := onHand[it.ProductID]
			if !ok || p.AvailableStock < it.Units {
				rejected = append(rejected, model.RejectedItem{
					ProductID: it.ProductID,
					Available: p.AvailableStock,
					Requested: it.Units,
				})
			}
		}

		var out model.IntegrationEvent
		if len(rejected) > 0 {
			out = model.FollowsFrom(event, model.EventStockRejected, model.StockRejectedPayload{
				OrderID:       payload.OrderID,
				BuyerID:       payload.BuyerID,
				RejectedItems: rejected,
			})
		} else {
			out = model.FollowsFrom(event, model.EventStockConfirmed, model.StockConfirmedPayload{
				OrderID: payload.OrderID,
				BuyerID: payload.BuyerID,
			})
		}

		logger.Log.Info("stock validated",
			zap.Int64("order_id", payload.OrderID),
			zap.Int("rejected_items", len(rejected)))

		return outboxStore.Save(ctx, tx, out)
	}

	decrement := func(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error {
		var payload model.OrderStatusChangedPayload
		if err := event.DecodePayload(&payload); err != nil || payload.OrderID == 0 {
			logger.Log.Warn("stock: undecodable order.paid payload, dropping",
				zap.String("event_id", event.ID), zap.Error(err))
			return nil
		}

		for _, it := range payload.Items {
			if err := stockRepo.Decrement(ctx, tx, it.ProductID, it.Units); err != nil {
				return err
			}
		}

		logger.Log.Info("stock decremented",
			zap.Int64("order_id", payload.OrderID),
			zap.Int("items", len(payload.Items)))

		return nil
	}

	if err := bus.Subscribe(model.EventOrderAwaitingValidation,
		eventbus.Idempotent(pgDB, validate),
		"stock.order.awaiting_validation"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := bus.Subscribe(model.EventOrderPaid,
		eventbus.Idempotent(pgDB, decrement),
		"stock.order.paid"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	processor := outbox.NewProcessor(outboxStore, bus, logger.Log, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
	go processor.Run(ctx)

	log.Println("stock worker running")
	waitForSignal()
	cancel()

	return nil
}
