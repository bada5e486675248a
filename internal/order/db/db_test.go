package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/models"
	"ms-marketplace/internal/order/db"
	"ms-marketplace/internal/testutil"
)

func setupTestDB(t *testing.T) (*db.DB, *models.TicketTier, *models.User) {
	t.Helper()
	bdb := testutil.NewSQLiteDB(t)
	organizer := testutil.SeedUser(t, bdb, models.RoleOrganizer)
	buyer := testutil.SeedUser(t, bdb, models.RoleBuyer)
	_, tiers := testutil.SeedEvent(t, bdb, organizer.ID, testutil.TierSpec{Name: "GA", Price: 2000, Quantity: 5, MaxPerUser: 5})
	return &db.DB{Bun: bdb}, tiers[0], buyer
}

func heldOrder(buyerID string, tier *models.TicketTier, q int, expires time.Time) *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		ID:                   uuid.NewString(),
		BuyerID:              buyerID,
		EventID:              tier.EventID,
		TierID:               tier.ID,
		Quantity:             q,
		UnitPrice:            tier.Price,
		Amount:               tier.Price * int64(q),
		Currency:             "ngn",
		Status:               models.OrderPending,
		Reference:            "TXN-" + uuid.NewString(),
		MaxRetries:           3,
		ReservationState:     models.ReservationHeld,
		ReservationExpiresAt: expires,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func TestTierCounters(t *testing.T) {
	d, tier, _ := setupTestDB(t)
	ctx := context.Background()

	ok, err := d.ReserveTier(ctx, tier.ID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ReserveTier(ctx, tier.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "reserving past capacity must fail")

	ok, err = d.CommitTier(ctx, tier.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.SellTier(ctx, tier.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.ReleaseTier(ctx, tier.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok, "only one ticket is still reserved")

	ok, err = d.ReleaseTier(ctx, tier.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := d.GetTier(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Sold)
	assert.Zero(t, got.Reserved)
	assert.Equal(t, 3, got.Available())
}

func TestReservationTransitions(t *testing.T) {
	d, tier, buyer := setupTestDB(t)
	ctx := context.Background()
	o := heldOrder(buyer.ID, tier, 1, time.Now().UTC().Add(time.Minute))
	require.NoError(t, d.CreateOrder(ctx, o))

	ok, err := d.ReleaseReservation(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.CommitReservation(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a released reservation cannot be committed directly")

	ok, err = d.RenewReservation(ctx, o.ID, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.CommitReservation(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ReleaseReservation(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "committed is terminal")
}

func TestPurchasedQuantityCountsCompletedAndHeld(t *testing.T) {
	d, tier, buyer := setupTestDB(t)
	ctx := context.Background()

	held := heldOrder(buyer.ID, tier, 2, time.Now().UTC().Add(time.Minute))
	require.NoError(t, d.CreateOrder(ctx, held))

	released := heldOrder(buyer.ID, tier, 3, time.Now().UTC())
	released.ReservationState = models.ReservationReleased
	released.Status = models.OrderFailed
	require.NoError(t, d.CreateOrder(ctx, released))

	testutil.SeedCompletedOrder(t, d.Bun, buyer.ID, tier, 1)

	n, err := d.PurchasedQuantity(ctx, buyer.ID, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestExpiredReservations(t *testing.T) {
	d, tier, buyer := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := heldOrder(buyer.ID, tier, 1, now.Add(-time.Minute))
	future := heldOrder(buyer.ID, tier, 1, now.Add(time.Hour))
	require.NoError(t, d.CreateOrder(ctx, past))
	require.NoError(t, d.CreateOrder(ctx, future))

	orders, err := d.ExpiredReservations(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, past.ID, orders[0].ID)
}

func TestApplyRefundIsBounded(t *testing.T) {
	d, tier, buyer := setupTestDB(t)
	ctx := context.Background()
	_, txn := testutil.SeedCompletedOrder(t, d.Bun, buyer.ID, tier, 2)

	ok, err := d.ApplyRefund(ctx, txn.ID, 3000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ApplyRefund(ctx, txn.ID, 1001)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxPartiallyRefunded, got.Status)
	assert.Equal(t, int64(3000), got.TotalRefunded)

	ok, err = d.ApplyRefund(ctx, txn.ID, 1000)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = d.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxRefunded, got.Status)

	require.NoError(t, d.RevertRefund(ctx, txn.ID, 1000))
	got, err = d.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxPartiallyRefunded, got.Status)
	assert.Equal(t, int64(3000), got.TotalRefunded)
}

func TestCompleteTransactionOnlyOnce(t *testing.T) {
	d, tier, buyer := setupTestDB(t)
	ctx := context.Background()
	o := heldOrder(buyer.ID, tier, 1, time.Now().UTC().Add(time.Minute))
	require.NoError(t, d.CreateOrder(ctx, o))
	now := time.Now().UTC()
	txn := &models.Transaction{
		ID: uuid.NewString(), OrderID: o.ID, BuyerID: buyer.ID, EventID: o.EventID, Reference: o.Reference,
		Gateway: "mock", Amount: o.Amount, Currency: "ngn", Status: models.TxInitiated, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, d.CreateTransaction(ctx, txn))

	ok, err := d.CompleteTransaction(ctx, txn.ID, "pi_1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.CompleteTransaction(ctx, txn.ID, "pi_1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.FailTransaction(ctx, txn.ID, "late failure")
	require.NoError(t, err)
	assert.False(t, ok, "a completed transaction cannot fail")
}

func TestGetOrderNotFound(t *testing.T) {
	d, _, _ := setupTestDB(t)
	_, err := d.GetOrder(context.Background(), "missing")
	assert.Error(t, err)
}
