package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/shopmesh/ordering-service/internal/config"
	"github.com/shopmesh/ordering-service/internal/db"
	"github.com/shopmesh/ordering-service/internal/model"
	"github.com/shopmesh/ordering-service/internal/repository"
	"github.com/shopmesh/ordering-service/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo products and baskets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewPostgresConnection(cfg.Postgres.DSN, db.PostgresOpts{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
			PingTimeout:     cfg.Postgres.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer sqlDB.Close()

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

		ctx := context.Background()

		log.Println(">> Seeding demo catalog...")
		if err := seedProducts(ctx, sqlDB); err != nil {
			return err
		}

		log.Println(">> Seeding demo webhook subscription...")
		if err := seedWebhooks(ctx, sqlDB); err != nil {
			return err
		}

		log.Println(">> Seeding demo basket...")
		baskets := repository.NewBasketsRepository(redisClient)
		if err := seedBasket(ctx, baskets); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

// seedProducts upserts a small deterministic catalog (idempotent).
func seedProducts(ctx context.Context, dbx *sqlx.DB) error {
	products := []model.Product{
		{ID: 1, Name: ".NET Bot Black Hoodie", AvailableStock: 100},
		{ID: 2, Name: "Prism White T-Shirt", AvailableStock: 85},
		{ID: 3, Name: "Foundation T-Shirt", AvailableStock: 120},
		{ID: 4, Name: "Roslyn Red Sheet", AvailableStock: 40},
		{ID: 20, Name: "Cup<T> White Mug", AvailableStock: 2},
	}

	const q = `
		INSERT INTO products (id, name, available_stock, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name            = EXCLUDED.name,
			available_stock = EXCLUDED.available_stock,
			updated_at      = NOW()
	`
	for _, p := range products {
		if _, err := dbx.ExecContext(ctx, q, p.ID, p.Name, p.AvailableStock); err != nil {
			return fmt.Errorf("seed product %d: %w", p.ID, err)
		}
	}

	return nil
}

// seedWebhooks registers one demo endpoint for cancellations (idempotent on url+type).
func seedWebhooks(ctx context.Context, dbx *sqlx.DB) error {
	const q = `
		INSERT INTO webhook_subscriptions (event_type, url, token)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_type, url) DO NOTHING
	`
	_, err := dbx.ExecContext(ctx, q, model.EventOrderCancelled, "http://localhost:9090/hooks/order-cancelled", util.NewULID())
	return err
}

func seedBasket(ctx context.Context, baskets repository.BasketsRepository) error {
	return baskets.Save(ctx, model.CustomerBasket{
		BuyerID: 1,
		Items: []model.BasketItem{
			{ProductID: 1, ProductName: ".NET Bot Black Hoodie", UnitPrice: 19.5, Quantity: 2},
			{ProductID: 2, ProductName: "Prism White T-Shirt", UnitPrice: 12.0, Quantity: 1},
		},
	})
}
