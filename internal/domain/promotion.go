package domain

import (
	"strings"
	"time"
)

// Promotion kind constants.
const (
	KindVoucher         = "voucher"
	KindTargetedVoucher = "targeted_voucher"
	KindFlashSale       = "flash_sale"
	KindFreeShipping    = "free_shipping"
)

// Voucher discount type constants.
const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// Targeted voucher scope constants.
const (
	TargetTypeCategory = "category"
	TargetTypeProduct  = "product"
)

// Free shipping condition type constants.
const (
	ShippingConditionAmount   = "amount"
	ShippingConditionLocation = "location"
	ShippingConditionCategory = "category"
)

// Promotion category constants, used by the stacking resolver. At most one
// promotion per category applies to a single order.
const (
	CategoryDiscount = "discount"
	CategoryShipping = "shipping"
)

// Promotion is the catalog record for all four promotion kinds. Kind selects
// the variant; the admin layer normalizes incoming records (field aliases,
// upper-cased codes, composed start/end timestamps) before anything reaches
// this struct, so the engine never sees aliasing.
type Promotion struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	IsActive bool   `json:"is_active"`
	Archived bool   `json:"archived"`

	StartAt time.Time  `json:"start_at"`
	EndAt   *time.Time `json:"end_at,omitempty"` // nil = open-ended

	UsageLimit *int `json:"usage_limit,omitempty"` // nil = unlimited global uses
	UsedCount  int  `json:"used_count"`
	MaxPerUser *int `json:"max_per_user,omitempty"` // nil = unlimited per-user uses

	// Voucher and targeted voucher fields. Value is a percent (0-100) for
	// percentage vouchers and minor units for fixed vouchers.
	Code         string `json:"code,omitempty"`
	DiscountType string `json:"discount_type,omitempty"`
	Value        int64  `json:"value,omitempty"`
	MinPurchase  int64  `json:"min_purchase,omitempty"`
	MaxDiscount  *int64 `json:"max_discount,omitempty"` // cap for percentage discounts; ignored for fixed

	// Targeted voucher scope.
	TargetType string `json:"target_type,omitempty"`
	TargetID   string `json:"target_id,omitempty"`

	// Flash sale fields. Stock is counted per unit sold, not per order.
	DiscountPercent int64    `json:"discount_percent,omitempty"`
	TotalStock      int      `json:"total_stock,omitempty"`
	RemainingStock  int      `json:"remaining_stock,omitempty"`
	AutoApply       bool     `json:"auto_apply,omitempty"`
	ProductIDs      []string `json:"product_ids,omitempty"` // products enrolled in the sale

	// Free shipping fields.
	ConditionType string   `json:"condition_type,omitempty"`
	MinAmount     int64    `json:"min_amount,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	Categories    []string `json:"categories,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WindowState is the lifecycle state of a promotion's validity window.
type WindowState string

const (
	WindowScheduled WindowState = "scheduled"
	WindowActive    WindowState = "active"
	WindowExpired   WindowState = "expired"
	WindowDisabled  WindowState = "disabled"
)

// WindowStateAt evaluates the promotion's lifecycle state at the given
// instant. It is a pure function of the window fields and now; the state is
// never stored. Safe to call concurrently without locking.
func (p *Promotion) WindowStateAt(now time.Time) WindowState {
	if !p.IsActive || p.Archived {
		return WindowDisabled
	}
	if now.Before(p.StartAt) {
		return WindowScheduled
	}
	if p.EndAt != nil && now.After(*p.EndAt) {
		return WindowExpired
	}
	return WindowActive
}

// Category returns the stacking category of the promotion.
func (p *Promotion) Category() string {
	if p.Kind == KindFreeShipping {
		return CategoryShipping
	}
	return CategoryDiscount
}

// Specificity orders discount-category kinds for stacking tie-breaks:
// the most specific promotion wins.
func (p *Promotion) Specificity() int {
	switch p.Kind {
	case KindFlashSale:
		return 3
	case KindTargetedVoucher:
		return 2
	case KindVoucher:
		return 1
	default:
		return 0
	}
}

// HasUsageHeadroom reports whether the global usage limit still has room.
func (p *Promotion) HasUsageHeadroom() bool {
	return p.UsageLimit == nil || p.UsedCount < *p.UsageLimit
}

// MatchesCode reports whether the given entered code matches the promotion's
// code. Codes are stored upper-cased; comparison is case-insensitive.
func (p *Promotion) MatchesCode(entered string) bool {
	return p.Code != "" && p.Code == NormalizeCode(entered)
}

// EnrollsProduct reports whether the product participates in this flash sale.
func (p *Promotion) EnrollsProduct(productID string) bool {
	for _, id := range p.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// NormalizeCode canonicalizes a voucher code: trimmed and upper-cased. This is
// the single normalization point; codes are unique case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidKinds returns the set of valid promotion kinds.
func ValidKinds() []string {
	return []string{KindVoucher, KindTargetedVoucher, KindFlashSale, KindFreeShipping}
}

// IsValidKind checks whether the given kind string is a valid promotion kind.
func IsValidKind(kind string) bool {
	for _, k := range ValidKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// IsValidDiscountType checks whether the given voucher discount type is valid.
func IsValidDiscountType(t string) bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixed
}

// IsValidTargetType checks whether the given targeted voucher scope is valid.
func IsValidTargetType(t string) bool {
	return t == TargetTypeCategory || t == TargetTypeProduct
}

// IsValidShippingCondition checks whether the given free shipping condition type is valid.
func IsValidShippingCondition(t string) bool {
	return t == ShippingConditionAmount || t == ShippingConditionLocation || t == ShippingConditionCategory
}

// PromotionUsage records one committed use of a promotion by a customer.
// Usage rows are written by the reservation coordinator on commit and feed the
// per-customer prior-usage lookup used by the eligibility filter.
type PromotionUsage struct {
	ID              string    `json:"id"`
	PromotionID     string    `json:"promotion_id"`
	CustomerID      string    `json:"customer_id"`
	OrderID         string    `json:"order_id"`
	Units           int       `json:"units"`
	DiscountApplied int64     `json:"discount_applied"`
	CreatedAt       time.Time `json:"created_at"`
}
