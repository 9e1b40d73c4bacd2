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

func seedActiveVoucher(env *testEnv, id, code string, percent int64) {
	end := time.Now().Add(24 * time.Hour)
	env.store.SeedPromotion(&domain.Promotion{
		ID:           id,
		Name:         "Voucher " + code,
		Kind:         domain.KindVoucher,
		IsActive:     true,
		StartAt:      time.Now().Add(-time.Hour),
		EndAt:        &end,
		Code:         code,
		DiscountType: domain.DiscountTypePercentage,
		Value:        percent,
	})
}

func TestResolve_QuoteWithVoucherAndShipping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedActiveVoucher(env, "v1", "TEN", 10)
	env.store.SeedPromotion(&domain.Promotion{
		ID:            "sh1",
		Name:          "Free shipping over 50",
		Kind:          domain.KindFreeShipping,
		IsActive:      true,
		StartAt:       time.Now().Add(-time.Hour),
		ConditionType: domain.ShippingConditionAmount,
		MinAmount:     5000,
	})

	resolution, err := env.resolution.Resolve(ctx, &domain.Cart{
		CustomerID: "cust-1",
		Items: []domain.CartItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: 5000},
		},
		VoucherCodes: []string{"ten"},
		ShippingFee:  1500,
	})

	require.NoError(t, err)
	require.NotNil(t, resolution.Discount)
	require.NotNil(t, resolution.Shipping)
	assert.Equal(t, "v1", resolution.Discount.Promotion.ID)
	assert.Equal(t, "sh1", resolution.Shipping.Promotion.ID)
	assert.Equal(t, int64(10000), resolution.Subtotal)
	assert.Equal(t, int64(1000), resolution.DiscountAmount)
	assert.Equal(t, int64(1500), resolution.ShippingDiscount)
	assert.Equal(t, int64(1500), resolution.ShippingFee)
	// 10000 - 1000 + 1500 - 1500
	assert.Equal(t, int64(9000), resolution.Total)
	assert.Empty(t, resolution.Rejected)

	lines := resolution.AppliedLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "v1", lines[0].PromotionID)
	assert.Equal(t, "sh1", lines[1].PromotionID)
}

func TestResolve_UnknownCodeFailsResolution(t *testing.T) {
	env := newTestEnv(t)
	seedActiveVoucher(env, "v1", "TEN", 10)

	_, err := env.resolution.Resolve(context.Background(), &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 1000}},
		VoucherCodes: []string{"NOSUCHCODE"},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCode)
}

func TestResolve_DisabledCodeIsRejectedNotInvalid(t *testing.T) {
	env := newTestEnv(t)

	env.store.SeedPromotion(&domain.Promotion{
		ID:           "v1",
		Name:         "Paused voucher",
		Kind:         domain.KindVoucher,
		IsActive:     false,
		StartAt:      time.Now().Add(-time.Hour),
		Code:         "PAUSED",
		DiscountType: domain.DiscountTypePercentage,
		Value:        10,
	})

	resolution, err := env.resolution.Resolve(context.Background(), &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 1000}},
		VoucherCodes: []string{"PAUSED"},
	})

	require.NoError(t, err)
	assert.Nil(t, resolution.Discount)
	require.Len(t, resolution.Rejected, 1)
	assert.Equal(t, "v1", resolution.Rejected[0].PromotionID)
	assert.Contains(t, resolution.Rejected[0].Reason, "disabled")
}

func TestResolve_CartValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cart domain.Cart
	}{
		{
			name: "missing customer",
			cart: domain.Cart{Items: []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 100}}},
		},
		{
			name: "empty cart",
			cart: domain.Cart{CustomerID: "cust-1"},
		},
		{
			name: "zero quantity",
			cart: domain.Cart{CustomerID: "cust-1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 0, UnitPrice: 100}}},
		},
		{
			name: "negative price",
			cart: domain.Cart{CustomerID: "cust-1", Items: []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: -1}}},
		},
		{
			name: "blank voucher code",
			cart: domain.Cart{
				CustomerID:   "cust-1",
				Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 100}},
				VoucherCodes: []string{"   "},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.resolution.Resolve(ctx, &tt.cart)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestResolve_TotalNeverNegative(t *testing.T) {
	env := newTestEnv(t)

	env.store.SeedPromotion(&domain.Promotion{
		ID:           "v1",
		Name:         "Huge fixed voucher",
		Kind:         domain.KindVoucher,
		IsActive:     true,
		StartAt:      time.Now().Add(-time.Hour),
		Code:         "HUGE",
		DiscountType: domain.DiscountTypeFixed,
		Value:        1_000_000,
	})

	resolution, err := env.resolution.Resolve(context.Background(), &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 500}},
		VoucherCodes: []string{"HUGE"},
	})

	require.NoError(t, err)
	// Fixed discounts clamp to the subtotal, so the quote floors at zero.
	assert.Equal(t, int64(500), resolution.DiscountAmount)
	assert.Equal(t, int64(0), resolution.Total)
}

func TestResolve_FlashSaleBeatsSmallerVoucher(t *testing.T) {
	env := newTestEnv(t)

	seedActiveVoucher(env, "v1", "TEN", 10)
	env.store.SeedPromotion(&domain.Promotion{
		ID:              "fs1",
		Name:            "Half off",
		Kind:            domain.KindFlashSale,
		IsActive:        true,
		StartAt:         time.Now().Add(-time.Hour),
		DiscountPercent: 50,
		TotalStock:      10,
		RemainingStock:  10,
		AutoApply:       true,
		ProductIDs:      []string{"p1"},
	})

	resolution, err := env.resolution.Resolve(context.Background(), &domain.Cart{
		CustomerID:   "cust-1",
		Items:        []domain.CartItem{{ProductID: "p1", Quantity: 2, UnitPrice: 5000}},
		VoucherCodes: []string{"TEN"},
	})

	require.NoError(t, err)
	require.NotNil(t, resolution.Discount)
	assert.Equal(t, "fs1", resolution.Discount.Promotion.ID)
	assert.Equal(t, int64(5000), resolution.DiscountAmount)
	// The losing voucher is simply not chosen; it is not a rejection.
	assert.Empty(t, resolution.Rejected)
}
