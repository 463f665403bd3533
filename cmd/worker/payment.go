package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/config"
	"github.com/shopmesh/ordering-service/internal/db"
	"github.com/shopmesh/ordering-service/internal/eventbus"
	"github.com/shopmesh/ordering-service/internal/logger"
	"github.com/shopmesh/ordering-service/internal/model"
)

var paymentFail bool

var paymentCmd = &cobra.Command{
	Use:   "payment",
	Short: "Run the payment worker (consumes order.confirmed)",
	RunE:  runPayment,
}

func init() {
	paymentCmd.Flags().BoolVar(&paymentFail, "fail", false, "simulate a failing payment gateway")
}

// runPayment starts the simulated payment gateway. It is stateless apart from
// Redis dedup markers, so it answers with a direct publish instead of an
// outbox: there is no business row to keep atomic with the event.
func runPayment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

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

	bus, err := connectBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	handler := func(ctx context.Context, event model.IntegrationEvent) error {
		var payload model.OrderStatusChangedPayload
		if err := event.DecodePayload(&payload); err != nil || payload.OrderID == 0 {
			logger.Log.Warn("payment: undecodable order.confirmed payload, dropping",
				zap.String("event_id", event.ID), zap.Error(err))
			return nil
		}

		var out model.IntegrationEvent
		if paymentFail {
			out = model.FollowsFrom(event, model.EventPaymentFailed, model.PaymentFailedPayload{
				OrderID: payload.OrderID,
				BuyerID: payload.BuyerID,
				Reason:  "payment gateway declined the charge",
			})
		} else {
			out = model.FollowsFrom(event, model.EventPaymentSucceeded, model.PaymentSucceededPayload{
				OrderID: payload.OrderID,
				BuyerID: payload.BuyerID,
			})
		}

		logger.Log.Info("payment processed",
			zap.Int64("order_id", payload.OrderID),
			zap.Float64("total", payload.Total),
			zap.String("result", out.Type))

		return bus.Publish(ctx, out)
	}

	wrapped := eventbus.IdempotentKV(
		eventbus.RedisKV{Client: redisClient},
		cfg.Redis.DedupTTL,
		handler,
	)

	if err := bus.Subscribe(model.EventOrderConfirmed, wrapped, "payment.order.confirmed"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	log.Println("payment worker running")
	waitForSignal()
	cancel()

	return nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("signal received: %s, shutting down...", sig)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	logLevel, _ := cmd.Root().PersistentFlags().GetString("log-level")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	logger.Init(logLevel)

	return cfg, nil
}

func connectBus(ctx context.Context, cfg config.Config) (*eventbus.EventBus, error) {
	bus := eventbus.New(cfg.AMQP.URL, eventbus.Options{
		Exchange:       cfg.AMQP.Exchange,
		MaxRetries:     cfg.AMQP.MaxRetries,
		RetryDelay:     cfg.AMQP.RetryDelay,
		Prefetch:       cfg.AMQP.Prefetch,
		ReconnectDelay: cfg.AMQP.ReconnectDelay,
	}, logger.Log)

	if err := bus.ConnectWithRetry(ctx, cfg.AMQP.ConnectAttempts, cfg.AMQP.ReconnectDelay); err != nil {
		return nil, fmt.Errorf("event bus connect: %w", err)
	}

	return bus, nil
}
