package eventbus

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/shopmesh/ordering-service/internal/model"
)

// TxHandler is a Handler variant that runs inside a transaction owned by the
// idempotency wrapper, so the business effect and the dedup marker commit
// atomically.
type TxHandler func(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error

const uniqueViolation = "23505"

// Idempotent wraps a TxHandler so the side effect executes at most once per
// event id, despite at-least-once delivery.
//
// Within one transaction it inserts a dedup marker into processed_events; a
// uniqueness violation means the event was already processed and the handler
// is skipped. Any other database error propagates, triggering the bus's
// normal retry path. The consuming service needs:
//
//	CREATE TABLE processed_events (
//	  event_id     TEXT PRIMARY KEY,
//	  event_type   TEXT NOT NULL,
//	  processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
func Idempotent(db *sqlx.DB, handler TxHandler) Handler {
	return func(ctx context.Context, event model.IntegrationEvent) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2)`,
			event.ID, event.Type,
		)
		if err != nil {
			if isUniqueViolation(err) {
				// already processed; treat the duplicate as success
				return nil
			}
			return err
		}

		if err := handler(ctx, tx, event); err != nil {
			return err
		}

		return tx.Commit()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
