package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopmesh/ordering-service/internal/model"
)

type fakeSummaries struct {
	upserts []model.OrderSummary
	patches []struct {
		orderID int64
		status  string
	}
}

func (f *fakeSummaries) Upsert(ctx context.Context, s model.OrderSummary) error {
	f.upserts = append(f.upserts, s)
	return nil
}

func (f *fakeSummaries) PatchStatus(ctx context.Context, orderID int64, status string) error {
	f.patches = append(f.patches, struct {
		orderID int64
		status  string
	}{orderID, status})
	return nil
}

func (f *fakeSummaries) FindByOrderID(ctx context.Context, orderID int64) (*model.OrderSummary, error) {
	return nil, nil
}

func (f *fakeSummaries) ListByBuyer(ctx context.Context, buyerID int64, status string, page, pageSize int) ([]model.OrderSummary, int, error) {
	return nil, 0, nil
}

func TestProjectorFullUpsertOnSubmitted(t *testing.T) {
	t.Parallel()

	summaries := &fakeSummaries{}
	p := NewProjector(summaries, zap.NewNop())

	event := model.NewEvent(model.EventOrderSubmitted, model.OrderSubmittedPayload{
		OrderID: 7, BuyerID: 3, Total: 45, ItemCount: 2,
	})
	require.NoError(t, p.Handle(context.Background(), event))

	require.Len(t, summaries.upserts, 1)
	got := summaries.upserts[0]
	assert.Equal(t, int64(7), got.OrderID)
	assert.Equal(t, int64(3), got.BuyerID)
	assert.Equal(t, "submitted", got.Status)
	assert.Equal(t, float64(45), got.Total)
	assert.Equal(t, 2, got.ItemCount)
	assert.Empty(t, summaries.patches)
}

func TestProjectorPatchUsesExplicitNewStatus(t *testing.T) {
	t.Parallel()

	summaries := &fakeSummaries{}
	p := NewProjector(summaries, zap.NewNop())

	event := model.NewEvent(model.EventOrderCancelled, model.OrderStatusChangedPayload{
		OrderID: 7, NewStatus: "cancelled",
	})
	require.NoError(t, p.Handle(context.Background(), event))

	require.Len(t, summaries.patches, 1)
	assert.Equal(t, int64(7), summaries.patches[0].orderID)
	assert.Equal(t, "cancelled", summaries.patches[0].status)
	assert.Empty(t, summaries.upserts)
}

func TestProjectorPatchDerivesStatusFromTypeSuffix(t *testing.T) {
	t.Parallel()

	summaries := &fakeSummaries{}
	p := NewProjector(summaries, zap.NewNop())

	// payload without newStatus: the type suffix decides
	event := model.NewEvent(model.EventOrderAwaitingValidation, model.OrderAwaitingValidationPayload{
		OrderID: 7, BuyerID: 3,
	})
	require.NoError(t, p.Handle(context.Background(), event))

	require.Len(t, summaries.patches, 1)
	assert.Equal(t, "awaiting_validation", summaries.patches[0].status)
}

func TestProjectorDropsUnderivableStatus(t *testing.T) {
	t.Parallel()

	summaries := &fakeSummaries{}
	p := NewProjector(summaries, zap.NewNop())

	event := model.NewEvent("order.exploded", model.OrderStatusChangedPayload{OrderID: 7})
	require.NoError(t, p.Handle(context.Background(), event))

	assert.Empty(t, summaries.patches)
	assert.Empty(t, summaries.upserts)
}
