package service

import (
	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
)

// LineDiscount is the monetary effect of a promotion on one cart line.
type LineDiscount struct {
	ProductID string `json:"product_id"`
	Units     int    `json:"units"`
	Discount  int64  `json:"discount"`
}

// All monetary values are integer minor units. Percentage math rounds down so
// a discount never exceeds its stated cap by a fractional unit.

// voucherDiscount computes the discount of a generic or targeted voucher over
// its applicable lines, allocated per line. Percentage discounts are floored
// per the applicable subtotal and capped by MaxDiscount; fixed discounts never
// exceed the applicable subtotal.
func voucherDiscount(p *domain.Promotion, lines []domain.CartItem) (int64, []LineDiscount) {
	var subtotal int64
	for i := range lines {
		subtotal += lines[i].LineTotal()
	}
	if subtotal == 0 {
		return 0, nil
	}

	var total int64
	switch p.DiscountType {
	case domain.DiscountTypePercentage:
		total = subtotal * p.Value / 100
		if p.MaxDiscount != nil && total > *p.MaxDiscount {
			total = *p.MaxDiscount
		}
	case domain.DiscountTypeFixed:
		total = p.Value
		if total > subtotal {
			total = subtotal
		}
	default:
		return 0, nil
	}

	// Allocate proportionally across lines, flooring each share and giving the
	// rounding remainder to the last line so the sum matches exactly.
	allocations := make([]LineDiscount, len(lines))
	var allocated int64
	for i := range lines {
		share := total * lines[i].LineTotal() / subtotal
		if i == len(lines)-1 {
			share = total - allocated
		}
		allocations[i] = LineDiscount{
			ProductID: lines[i].ProductID,
			Units:     lines[i].Quantity,
			Discount:  share,
		}
		allocated += share
	}

	return total, allocations
}

// flashSaleDiscount computes the per-unit flash sale discount over the
// enrolled lines. At most maxUnits units are discounted; units beyond that
// fall back to full price (partial fulfillment, not a failure). Returns the
// total discount, the per-line breakdown, and the units consumed.
func flashSaleDiscount(p *domain.Promotion, lines []domain.CartItem, maxUnits int) (int64, []LineDiscount, int) {
	if maxUnits <= 0 {
		return 0, nil, 0
	}

	var (
		total       int64
		consumed    int
		allocations []LineDiscount
	)

	for i := range lines {
		if consumed >= maxUnits {
			break
		}
		units := lines[i].Quantity
		if remaining := maxUnits - consumed; units > remaining {
			units = remaining
		}
		perUnit := lines[i].UnitPrice * p.DiscountPercent / 100
		if perUnit == 0 {
			continue
		}
		allocations = append(allocations, LineDiscount{
			ProductID: lines[i].ProductID,
			Units:     units,
			Discount:  perUnit * int64(units),
		})
		total += perUnit * int64(units)
		consumed += units
	}

	return total, allocations, consumed
}

// shippingDiscount computes the waived shipping fee: the quoted fee, capped by
// MaxDiscount when set.
func shippingDiscount(p *domain.Promotion, quotedFee int64) int64 {
	if quotedFee <= 0 {
		return 0
	}
	if p.MaxDiscount != nil && quotedFee > *p.MaxDiscount {
		return *p.MaxDiscount
	}
	return quotedFee
}
