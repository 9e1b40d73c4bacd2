package service

import (
	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
)

// StackingResult is the combination of promotions that will actually apply:
// at most one discount-category promotion and at most one shipping promotion.
type StackingResult struct {
	Discount *Candidate
	Shipping *Candidate
}

// ResolveStacking picks deterministically from the eligible candidates.
// Discount-category tie-breaks: (1) highest discount amount, (2) most specific
// kind (flash sale > targeted voucher > generic voucher), (3) lowest id.
// The shipping promotion is chosen independently and always combines with the
// chosen discount. Pure; no mutation.
func ResolveStacking(candidates []Candidate) StackingResult {
	var result StackingResult

	for i := range candidates {
		c := &candidates[i]
		switch c.Promotion.Category() {
		case domain.CategoryDiscount:
			if result.Discount == nil || beats(c, result.Discount) {
				result.Discount = c
			}
		case domain.CategoryShipping:
			if result.Shipping == nil || beats(c, result.Shipping) {
				result.Shipping = c
			}
		}
	}

	return result
}

// beats reports whether a should be chosen over b under the tie-break order.
func beats(a, b *Candidate) bool {
	if a.Discount != b.Discount {
		return a.Discount > b.Discount
	}
	if sa, sb := a.Promotion.Specificity(), b.Promotion.Specificity(); sa != sb {
		return sa > sb
	}
	return a.Promotion.ID < b.Promotion.ID
}
