package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shopmesh/ordering-service/internal/model"
)

// Message is a row in outbox_messages. A row with a NULL published_at has
// never been successfully handed to the broker.
type Message struct {
	ID          string     `db:"id"`
	EventType   string     `db:"event_type"`
	Payload     []byte     `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// Store persists publish intent in the same transaction as the business
// write, solving the dual-write problem: a crash between DB commit and broker
// publish can neither lose nor duplicate intent.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Save inserts one outbox row using the caller's open transaction. It never
// opens its own transaction: the business write and the publish intent must
// commit or roll back together.
func (s *Store) Save(ctx context.Context, tx *sqlx.Tx, event model.IntegrationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("outbox marshal event: %w", err)
	}

	const q = `
		INSERT INTO outbox_messages (id, event_type, payload)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.ExecContext(ctx, q, event.ID, event.Type, payload); err != nil {
		return fmt.Errorf("outbox insert: %w", err)
	}

	return nil
}

// ClaimUnpublished locks the oldest unpublished rows, hands them to fn, and
// stamps published_at on the ids fn returns, all inside one transaction. The
// row locks stay held while fn publishes, so a second processor instance SKIPs
// the in-flight batch instead of claiming it twice.
func (s *Store) ClaimUnpublished(ctx context.Context, limit int, fn func(msgs []Message) []string) error {
	if limit <= 0 {
		limit = 50
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		SELECT id, event_type, payload, created_at, published_at
		FROM outbox_messages
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	var msgs []Message
	if err := tx.SelectContext(ctx, &msgs, q, limit); err != nil {
		return fmt.Errorf("outbox select unpublished: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	ids := fn(msgs)
	if len(ids) == 0 {
		return tx.Commit()
	}

	mark, args, err := sqlx.In(`UPDATE outbox_messages SET published_at = NOW() WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("outbox build mark query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(mark), args...); err != nil {
		return fmt.Errorf("outbox mark published: %w", err)
	}

	return tx.Commit()
}
