package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmesh/ordering-service/internal/model"
)

func newMockStore(t *testing.T) (*Store, *sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sdb := sqlx.NewDb(db, "postgres")
	return NewStore(sdb), sdb, mock
}

func TestSaveUsesCallerTransaction(t *testing.T) {
	t.Parallel()

	store, db, mock := newMockStore(t)
	event := model.NewEvent("order.submitted", model.OrderSubmittedPayload{OrderID: 1})
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs(event.ID, event.Type, payload).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), tx, event))
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRolledBackLeavesNoRow(t *testing.T) {
	t.Parallel()

	store, db, mock := newMockStore(t)
	event := model.NewEvent("order.submitted", model.OrderSubmittedPayload{OrderID: 1})

	// the insert happens, but the business tx aborts: no commit is ever
	// issued, so the intent row dies with the rollback
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs(event.ID, event.Type, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), tx, event))
	require.NoError(t, tx.Rollback())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUnpublishedLocksMarksAndCommits(t *testing.T) {
	t.Parallel()

	store, _, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "created_at", "published_at"}).
		AddRow("m-1", "order.submitted", []byte(`{}`), now, nil).
		AddRow("m-2", "order.paid", []byte(`{}`), now, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE outbox_messages SET published_at = NOW\(\) WHERE id IN \(\$1, \$2\)`).
		WithArgs("m-1", "m-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var seen []string
	err := store.ClaimUnpublished(context.Background(), 10, func(msgs []Message) []string {
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			seen = append(seen, m.EventType)
			ids = append(ids, m.ID)
		}
		return ids
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"order.submitted", "order.paid"}, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUnpublishedPartialBatchMarksPrefixOnly(t *testing.T) {
	t.Parallel()

	store, _, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "created_at", "published_at"}).
		AddRow("m-1", "order.submitted", []byte(`{}`), now, nil).
		AddRow("m-2", "order.paid", []byte(`{}`), now, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE outbox_messages SET published_at = NOW\(\) WHERE id IN \(\$1\)`).
		WithArgs("m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ClaimUnpublished(context.Background(), 10, func(msgs []Message) []string {
		return []string{msgs[0].ID}
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUnpublishedNothingPublishedStillCommits(t *testing.T) {
	t.Parallel()

	store, _, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "created_at", "published_at"}).
		AddRow("m-1", "order.submitted", []byte(`{}`), time.Now(), nil)

	// the claim releases its locks without touching published_at
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectCommit()

	err := store.ClaimUnpublished(context.Background(), 10, func(msgs []Message) []string {
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUnpublishedEmptyOutboxSkipsCallback(t *testing.T) {
	t.Parallel()

	store, _, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "created_at", "published_at"})

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectRollback()

	called := false
	err := store.ClaimUnpublished(context.Background(), 10, func(msgs []Message) []string {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}
