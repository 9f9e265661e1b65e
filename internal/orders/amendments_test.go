package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"purchases/internal/orders"
	"purchases/models"
)

// confirmedOrderID подготавливает подтвержденный заказ: 950 т по 2.50.
func confirmedOrderID(t *testing.T, e *orders.Engine) int {
	t.Helper()
	ctx := context.Background()
	o := createPending(t, e)

	_, err := e.Confirm(ctx, o.ID, sellerID, models.ConfirmationTerms{Quantity: decPtr("950")})
	require.NoError(t, err)
	_, err = e.ApproveConfirmation(ctx, o.ID, buyerID, "")
	require.NoError(t, err)
	return o.ID
}

func TestProposeOnNonConfirmedFails(t *testing.T) {
	e, store, _ := newTestEngine()
	ctx := context.Background()
	o := createPending(t, e)

	before, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)

	_, err = e.ProposeAmendment(ctx, o.ID, sellerID, models.ChangeSet{Quantity: decPtr("900")},
		"partial shipment delay", models.PriorityMedium, nil)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	after, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestProposeShortReasonFails(t *testing.T) {
	e, _, _ := newTestEngine()
	id := confirmedOrderID(t, e)

	_, err := e.ProposeAmendment(context.Background(), id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "late", models.PriorityHigh, nil)
	require.ErrorIs(t, err, orders.ErrValidation)
}

func TestProposeWithoutEffectiveChangesFails(t *testing.T) {
	e, _, _ := newTestEngine()
	id := confirmedOrderID(t, e)

	// Предложенные значения совпадают с действующими условиями
	_, err := e.ProposeAmendment(context.Background(), id, sellerID,
		models.ChangeSet{Quantity: decPtr("950")}, "no real change requested", models.PriorityLow, nil)
	require.ErrorIs(t, err, orders.ErrValidation)
}

func TestProposeByNonPartyFails(t *testing.T) {
	e, _, _ := newTestEngine()
	id := confirmedOrderID(t, e)

	_, err := e.ProposeAmendment(context.Background(), id, otherID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, nil)
	require.ErrorIs(t, err, orders.ErrUnauthorized)
}

func TestProposeCreatesPendingAmendment(t *testing.T) {
	e, store, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityHigh, nil)
	require.NoError(t, err)
	require.Equal(t, models.AmendmentPending, a.Status)
	require.Equal(t, models.QuantityChange, a.Type)
	require.Equal(t, 1, a.AmendmentNumber)
	require.Equal(t, sellerID, a.ProposedByCompanyID)
	require.Equal(t, buyerID, a.RequiresApprovalFromCompanyID)
	require.Len(t, a.Changes, 1)
	require.Equal(t, "950", a.Changes[0].OriginalValue)
	require.Equal(t, "900", a.Changes[0].ProposedValue)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.OrderAmendmentPending, o.Status)
}

func TestProposeWhilePendingFails(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	_, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, nil)
	require.NoError(t, err)

	_, err = e.ProposeAmendment(ctx, id, buyerID,
		models.ChangeSet{UnitPrice: decPtr("2.60")}, "market price moved up", models.PriorityMedium, nil)
	require.ErrorIs(t, err, orders.ErrConflictingAmendment)
}

func TestResolveApproveAppliesChanges(t *testing.T) {
	e, store, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityHigh, nil)
	require.NoError(t, err)

	a, err = e.ResolveAmendment(ctx, a.ID, buyerID, true, "accepted")
	require.NoError(t, err)
	require.Equal(t, models.AmendmentApplied, a.Status)
	require.NotNil(t, a.ApprovedAt)
	require.NotNil(t, a.AppliedAt)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.OrderConfirmed, o.Status)
	require.Equal(t, "900", o.Quantity.String())
	require.Equal(t, "900", o.ConfirmedQuantity.String())
	// Остальные условия не тронуты
	require.Equal(t, "2.5", o.UnitPrice.String())
	require.Equal(t, "Port A", o.DeliveryLocation)
	require.Equal(t, 1, o.AmendmentCount)
	require.NotNil(t, o.LastAmendedAt)
}

// Сценарий: продавец предлагает 950 -> 900, покупатель отклоняет — условия
// заказа не меняются.
func TestResolveRejectLeavesTermsUntouched(t *testing.T) {
	e, store, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, nil)
	require.NoError(t, err)

	a, err = e.ResolveAmendment(ctx, a.ID, buyerID, false, "need the full 950")
	require.NoError(t, err)
	require.Equal(t, models.AmendmentRejected, a.Status)
	require.Nil(t, a.AppliedAt)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.OrderConfirmed, o.Status)
	require.Equal(t, "950", o.Quantity.String())
	require.Equal(t, 0, o.AmendmentCount)
}

func TestResolveByProposerFails(t *testing.T) {
	e, store, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, nil)
	require.NoError(t, err)

	_, err = e.ResolveAmendment(ctx, a.ID, sellerID, true, "")
	require.ErrorIs(t, err, orders.ErrUnauthorized)

	stored, err := store.GetAmendment(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AmendmentPending, stored.Status)
}

func TestResolveRetryIsNoOp(t *testing.T) {
	e, store, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, nil)
	require.NoError(t, err)

	_, err = e.ResolveAmendment(ctx, a.ID, buyerID, true, "")
	require.NoError(t, err)
	_, err = e.ResolveAmendment(ctx, a.ID, buyerID, true, "")
	require.NoError(t, err)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, o.AmendmentCount)
}

func TestResolveResolvedAmendmentFails(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, nil)
	require.NoError(t, err)

	_, err = e.ResolveAmendment(ctx, a.ID, buyerID, false, "")
	require.NoError(t, err)

	// Одобрить уже отклоненную поправку нельзя
	_, err = e.ResolveAmendment(ctx, a.ID, buyerID, true, "")
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestAmendmentNumbersGrowPerOrder(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a1, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, nil)
	require.NoError(t, err)
	_, err = e.ResolveAmendment(ctx, a1.ID, buyerID, true, "")
	require.NoError(t, err)

	a2, err := e.ProposeAmendment(ctx, id, buyerID,
		models.ChangeSet{DeliveryDate: datePtr(time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC))},
		"warehouse closed first week", models.PriorityLow, nil)
	require.NoError(t, err)
	require.Equal(t, 2, a2.AmendmentNumber)
	require.Equal(t, models.DeliveryDateChange, a2.Type)
	require.Equal(t, sellerID, a2.RequiresApprovalFromCompanyID)
}

func TestMultiFieldAmendmentTypeByImpact(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	a, err := e.ProposeAmendment(ctx, id, buyerID, models.ChangeSet{
		UnitPrice:        decPtr("2.60"),
		DeliveryLocation: strPtr("Port B"),
	}, "reroute and price adjustment", models.PriorityCritical, nil)
	require.NoError(t, err)
	require.Equal(t, models.PriceChange, a.Type)
	require.Len(t, a.Changes, 2)
}

func TestExpireStaleAmendments(t *testing.T) {
	e, store, _ := newTestEngine()
	ctx := context.Background()
	id := confirmedOrderID(t, e)

	past := time.Now().UTC().Add(-time.Hour)
	a, err := e.ProposeAmendment(ctx, id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.PriorityMedium, &past)
	require.NoError(t, err)

	n, err := e.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stored, err := store.GetAmendment(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AmendmentExpired, stored.Status)

	o, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.OrderConfirmed, o.Status)

	// Повторный запуск ничего не находит
	n, err = e.ExpireStale(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProposeUnknownPriorityFails(t *testing.T) {
	e, _, _ := newTestEngine()
	id := confirmedOrderID(t, e)

	_, err := e.ProposeAmendment(context.Background(), id, sellerID,
		models.ChangeSet{Quantity: decPtr("900")}, "partial shipment delay", models.Priority("urgent"), nil)
	require.ErrorIs(t, err, orders.ErrValidation)
}
