package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

func TestReserve_HoldsCapacityUnderLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.SeedPromotion(&domain.Promotion{
		ID:              "fs1",
		Name:            "Flash",
		Kind:            domain.KindFlashSale,
		IsActive:        true,
		StartAt:         time.Now().Add(-time.Hour),
		DiscountPercent: 20,
		TotalStock:      10,
		RemainingStock:  10,
		AutoApply:       true,
		ProductIDs:      []string{"p1"},
	})

	before := time.Now()
	result, err := env.reservation.Reserve(ctx, &domain.Cart{
		CustomerID: "cust-1",
		Items:      []domain.CartItem{{ProductID: "p1", Quantity: 3, UnitPrice: 1000}},
	})
	require.NoError(t, err)

	res := result.Reservation
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, domain.ReservationStatusPending, res.Status)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, "fs1", res.Lines[0].PromotionID)
	assert.Equal(t, 3, res.Lines[0].Units)

	// Lease runs from now for the configured TTL.
	assert.WithinDuration(t, before.Add(15*time.Minute), res.ExpiresAt, 5*time.Second)

	p, err := env.store.GetByID(ctx, "fs1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.RemainingStock)
	assert.Equal(t, 1, p.UsedCount)

	got, err := env.reservation.GetReservation(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Token, got.Token)
}

func TestReserve_NothingApplies(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reservation.Reserve(context.Background(), &domain.Cart{
		CustomerID: "cust-1",
		Items:      []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 1000}},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotEligible)
}

func TestReserve_ExhaustedVoucherDoesNotReserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.SeedPromotion(&domain.Promotion{
		ID:           "v1",
		Name:         "Voucher LAST",
		Kind:         domain.KindVoucher,
		IsActive:     true,
		StartAt:      time.Now().Add(-time.Hour),
		Code:         "LAST",
		DiscountType: domain.DiscountTypePercentage,
		Value:        10,
		UsageLimit:   intPtr(1),
		UsedCount:    1,
	})

	_, err := env.reservation.Reserve(ctx, &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 1000}},
		VoucherCodes: []string{"LAST"},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotEligible)

	p, err := env.store.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.UsedCount)
}

func TestCommit_RequiresOrderID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reservation.Commit(context.Background(), "some-token", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCommit_FinalizesAndRecordsUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedActiveVoucher(env, "v1", "TEN", 10)

	result, err := env.reservation.Reserve(ctx, &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 10000}},
		VoucherCodes: []string{"TEN"},
	})
	require.NoError(t, err)

	committed, err := env.reservation.Commit(ctx, result.Reservation.Token, "order-42")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusCommitted, committed.Status)
	assert.Equal(t, "order-42", committed.OrderID)

	// Idempotent on repeat.
	again, err := env.reservation.Commit(ctx, result.Reservation.Token, "order-42")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusCommitted, again.Status)

	usage, err := env.store.PriorUsage(ctx, "cust-1", []string{"v1"})
	require.NoError(t, err)
	assert.Equal(t, 1, usage["v1"])
}

func TestCommit_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reservation.Commit(context.Background(), "missing", "order-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRelease_ReturnsCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedActiveVoucher(env, "v1", "TEN", 10)

	result, err := env.reservation.Reserve(ctx, &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 10000}},
		VoucherCodes: []string{"TEN"},
	})
	require.NoError(t, err)

	released, err := env.reservation.Release(ctx, result.Reservation.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReleased, released.Status)

	p, err := env.store.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, p.UsedCount)

	// Committing a released reservation is refused.
	_, err = env.reservation.Commit(ctx, result.Reservation.Token, "order-1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCleanExpired_SweepsLapsedLeases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedActiveVoucher(env, "v1", "TEN", 10)

	// A separate coordinator with a negative lease TTL issues reservations
	// that are already lapsed, which is exactly what the sweeper looks for.
	lapsing := NewReservationService(env.resolution, env.store, env.reservation.producer, env.reservation.logger, -time.Minute)

	result, err := lapsing.Reserve(ctx, &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 10000}},
		VoucherCodes: []string{"TEN"},
	})
	require.NoError(t, err)

	n, err := env.reservation.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.GetByToken(ctx, result.Reservation.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, got.Status)

	p, err := env.store.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, p.UsedCount)
}
