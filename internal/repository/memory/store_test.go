package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

func intPtr(v int) *int { return &v }

func seedVoucher(s *Store, id string, usageLimit *int) {
	s.SeedPromotion(&domain.Promotion{
		ID:           id,
		Name:         "Voucher " + id,
		Kind:         domain.KindVoucher,
		IsActive:     true,
		StartAt:      time.Now().Add(-time.Hour),
		Code:         "CODE-" + id,
		DiscountType: domain.DiscountTypeFixed,
		Value:        500,
		UsageLimit:   usageLimit,
	})
}

func seedFlashSale(s *Store, id string, stock int) {
	s.SeedPromotion(&domain.Promotion{
		ID:              id,
		Name:            "Sale " + id,
		Kind:            domain.KindFlashSale,
		IsActive:        true,
		StartAt:         time.Now().Add(-time.Hour),
		DiscountPercent: 20,
		TotalStock:      stock,
		RemainingStock:  stock,
		AutoApply:       true,
		ProductIDs:      []string{"p1"},
	})
}

func pendingReservation(token, customerID string, lines ...domain.ReservationLine) *domain.Reservation {
	return &domain.Reservation{
		Token:      token,
		CustomerID: customerID,
		Lines:      lines,
		Status:     domain.ReservationStatusPending,
		ExpiresAt:  time.Now().Add(15 * time.Minute),
		CreatedAt:  time.Now(),
	}
}

func TestStore_PromotionCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	p := &domain.Promotion{
		ID:           "v1",
		Name:         "Welcome",
		Kind:         domain.KindVoucher,
		IsActive:     true,
		StartAt:      time.Now().Add(-time.Hour),
		Code:         "WELCOME",
		DiscountType: domain.DiscountTypePercentage,
		Value:        10,
	}
	require.NoError(t, s.Create(ctx, p))

	err := s.Create(ctx, &domain.Promotion{ID: "v2", Code: "WELCOME"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	got, err := s.GetByCode(ctx, "WELCOME")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.ID)

	require.NoError(t, s.Archive(ctx, "v1"))

	_, err = s.GetByCode(ctx, "WELCOME")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Archived rows stay readable by id and are excluded from default lists.
	got, err = s.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, got.Archived)

	listed, total, err := s.List(ctx, repository.PromotionFilter{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, listed)
}

func TestStore_UpdatePreservesCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedFlashSale(s, "fs1", 10)

	res := pendingReservation("t1", "cust-1", domain.ReservationLine{PromotionID: "fs1", Units: 4, Discount: 800})
	require.NoError(t, s.Reserve(ctx, res))

	updated := &domain.Promotion{
		ID:              "fs1",
		Name:            "Renamed sale",
		Kind:            domain.KindFlashSale,
		IsActive:        true,
		StartAt:         time.Now().Add(-time.Hour),
		DiscountPercent: 25,
		TotalStock:      10,
		RemainingStock:  10, // must be ignored
		ProductIDs:      []string{"p1"},
	}
	require.NoError(t, s.Update(ctx, updated))

	got, err := s.GetByID(ctx, "fs1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed sale", got.Name)
	assert.Equal(t, 6, got.RemainingStock)
	assert.Equal(t, 1, got.UsedCount)
}

func TestStore_ReserveAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedVoucher(s, "v1", nil)
	seedFlashSale(s, "fs1", 2)

	res := pendingReservation("t1", "cust-1",
		domain.ReservationLine{PromotionID: "v1", Units: 1, Discount: 500},
		domain.ReservationLine{PromotionID: "fs1", Units: 5, Discount: 1000},
	)
	err := s.Reserve(ctx, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)

	// The voucher line must not have been claimed.
	v, err := s.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, v.UsedCount)

	_, err = s.GetByToken(ctx, "t1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_ConcurrentReservesRespectUsageLimit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedVoucher(s, "v1", intPtr(10))

	const attempts = 50

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := pendingReservation(
				fmt.Sprintf("tok-%d", i),
				fmt.Sprintf("cust-%d", i),
				domain.ReservationLine{PromotionID: "v1", Units: 1, Discount: 500},
			)
			errs[i] = s.Reserve(ctx, res)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
		}
	}
	assert.Equal(t, 10, succeeded)

	p, err := s.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.UsedCount)
}

func TestStore_ConcurrentReservesRespectFlashStock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedFlashSale(s, "fs1", 5)

	units := []int{3, 2, 2, 1, 4}

	var wg sync.WaitGroup
	errs := make([]error, len(units))
	for i, u := range units {
		wg.Add(1)
		go func(i, u int) {
			defer wg.Done()
			res := pendingReservation(
				fmt.Sprintf("tok-%d", i),
				fmt.Sprintf("cust-%d", i),
				domain.ReservationLine{PromotionID: "fs1", Units: u, Discount: int64(u) * 200},
			)
			errs[i] = s.Reserve(ctx, res)
		}(i, u)
	}
	wg.Wait()

	claimed := 0
	for i, err := range errs {
		if err == nil {
			claimed += units[i]
		}
	}
	assert.LessOrEqual(t, claimed, 5)

	p, err := s.GetByID(ctx, "fs1")
	require.NoError(t, err)
	assert.Equal(t, 5-claimed, p.RemainingStock)
	assert.GreaterOrEqual(t, p.RemainingStock, 0)
}

func TestStore_ConcurrentMultiLineReservesDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedVoucher(s, "a", nil)
	seedVoucher(s, "b", nil)

	// Half the goroutines list the lines as (a, b), half as (b, a). The
	// ascending-id lock order must keep them from deadlocking.
	const attempts = 40
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lines := []domain.ReservationLine{
				{PromotionID: "a", Units: 1, Discount: 100},
				{PromotionID: "b", Units: 1, Discount: 100},
			}
			if i%2 == 1 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			res := pendingReservation(fmt.Sprintf("tok-%d", i), fmt.Sprintf("cust-%d", i), lines...)
			require.NoError(t, s.Reserve(ctx, res))
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		p, err := s.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, attempts, p.UsedCount)
	}
}

func TestStore_PerCustomerCapCountsPendingReservations(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.SeedPromotion(&domain.Promotion{
		ID:           "v1",
		Kind:         domain.KindVoucher,
		IsActive:     true,
		StartAt:      time.Now().Add(-time.Hour),
		Code:         "ONCE",
		DiscountType: domain.DiscountTypeFixed,
		Value:        500,
		MaxPerUser:   intPtr(1),
	})

	line := domain.ReservationLine{PromotionID: "v1", Units: 1, Discount: 500}
	require.NoError(t, s.Reserve(ctx, pendingReservation("t1", "cust-1", line)))

	// Same customer again while the first hold is still pending.
	err := s.Reserve(ctx, pendingReservation("t2", "cust-1", line))
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)

	// A different customer is unaffected.
	require.NoError(t, s.Reserve(ctx, pendingReservation("t3", "cust-2", line)))
}

func TestStore_CommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedVoucher(s, "v1", nil)

	res := pendingReservation("t1", "cust-1", domain.ReservationLine{PromotionID: "v1", Units: 1, Discount: 500})
	require.NoError(t, s.Reserve(ctx, res))

	first, err := s.Commit(ctx, "t1", "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusCommitted, first.Status)
	assert.Equal(t, "order-1", first.OrderID)

	second, err := s.Commit(ctx, "t1", "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusCommitted, second.Status)

	// Usage is recorded exactly once.
	usage, err := s.PriorUsage(ctx, "cust-1", []string{"v1"})
	require.NoError(t, err)
	assert.Equal(t, 1, usage["v1"])

	p, err := s.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.UsedCount)
}

func TestStore_ReleaseRestoresCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedFlashSale(s, "fs1", 5)

	res := pendingReservation("t1", "cust-1", domain.ReservationLine{PromotionID: "fs1", Units: 3, Discount: 600})
	require.NoError(t, s.Reserve(ctx, res))

	p, _ := s.GetByID(ctx, "fs1")
	assert.Equal(t, 2, p.RemainingStock)

	released, err := s.Release(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReleased, released.Status)

	p, _ = s.GetByID(ctx, "fs1")
	assert.Equal(t, 5, p.RemainingStock)
	assert.Zero(t, p.UsedCount)

	// Double release is a no-op, not an error.
	again, err := s.Release(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReleased, again.Status)

	p, _ = s.GetByID(ctx, "fs1")
	assert.Equal(t, 5, p.RemainingStock)
}

func TestStore_CommitAfterReleaseFails(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedVoucher(s, "v1", nil)

	res := pendingReservation("t1", "cust-1", domain.ReservationLine{PromotionID: "v1", Units: 1, Discount: 500})
	require.NoError(t, s.Reserve(ctx, res))

	_, err := s.Release(ctx, "t1")
	require.NoError(t, err)

	_, err = s.Commit(ctx, "t1", "order-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestStore_CommitAfterLeaseLapseExpiresAndRestores(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedFlashSale(s, "fs1", 5)

	res := pendingReservation("t1", "cust-1", domain.ReservationLine{PromotionID: "fs1", Units: 2, Discount: 400})
	res.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.Reserve(ctx, res))

	_, err := s.Commit(ctx, "t1", "order-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrReservationExpired)

	got, err := s.GetByToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, got.Status)

	p, _ := s.GetByID(ctx, "fs1")
	assert.Equal(t, 5, p.RemainingStock)
	assert.Zero(t, p.UsedCount)

	// Repeat commits keep reporting expiry without touching counters again.
	_, err = s.Commit(ctx, "t1", "order-1")
	assert.ErrorIs(t, err, apperrors.ErrReservationExpired)
	p, _ = s.GetByID(ctx, "fs1")
	assert.Equal(t, 5, p.RemainingStock)
}

func TestStore_ReleaseExpiredSweep(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedVoucher(s, "v1", nil)

	line := domain.ReservationLine{PromotionID: "v1", Units: 1, Discount: 500}

	lapsed := pendingReservation("old", "cust-1", line)
	lapsed.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Reserve(ctx, lapsed))

	fresh := pendingReservation("new", "cust-2", line)
	require.NoError(t, s.Reserve(ctx, fresh))

	committed := pendingReservation("done", "cust-3", line)
	committed.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Reserve(ctx, committed))

	// Commit before the sweep; the lapsed lease loses to nobody here, but the
	// committed one must never be swept.
	s.mu.Lock()
	s.reservations["done"].Status = domain.ReservationStatusCommitted
	s.mu.Unlock()

	released, err := s.ReleaseExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, "old", released[0].Token)
	assert.Equal(t, domain.ReservationStatusExpired, released[0].Status)

	got, _ := s.GetByToken(ctx, "old")
	assert.Equal(t, domain.ReservationStatusExpired, got.Status)
	got, _ = s.GetByToken(ctx, "new")
	assert.Equal(t, domain.ReservationStatusPending, got.Status)
	got, _ = s.GetByToken(ctx, "done")
	assert.Equal(t, domain.ReservationStatusCommitted, got.Status)

	p, _ := s.GetByID(ctx, "v1")
	assert.Equal(t, 2, p.UsedCount)
}

func TestStore_PriorUsageSumsCommittedAndPending(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedFlashSale(s, "fs1", 100)

	first := pendingReservation("t1", "cust-1", domain.ReservationLine{PromotionID: "fs1", Units: 2, Discount: 400})
	require.NoError(t, s.Reserve(ctx, first))
	_, err := s.Commit(ctx, "t1", "order-1")
	require.NoError(t, err)

	second := pendingReservation("t2", "cust-1", domain.ReservationLine{PromotionID: "fs1", Units: 3, Discount: 600})
	require.NoError(t, s.Reserve(ctx, second))

	usage, err := s.PriorUsage(ctx, "cust-1", []string{"fs1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 5, usage["fs1"])
	_, present := usage["missing"]
	assert.False(t, present)
}

func TestStore_GetByTokenUnknown(t *testing.T) {
	s := NewStore()
	_, err := s.GetByToken(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
