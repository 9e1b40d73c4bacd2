package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
)

// Candidate is a promotion that passed the eligibility filter, together with
// the cart lines it applies to and its computed monetary effect.
type Candidate struct {
	Promotion     domain.Promotion
	Lines         []domain.CartItem
	LineDiscounts []LineDiscount
	Discount      int64
	Units         int // capacity units to reserve; 1 for vouchers and shipping rules
}

// Ineligibility explains why a promotion the customer referenced (or an
// auto-applicable one) did not qualify.
type Ineligibility struct {
	PromotionID string `json:"promotion_id"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
}

// EvaluateCart runs the eligibility filter and discount calculator over the
// given promotions. It is read-only and may run on stale counter values; the
// reservation coordinator re-validates capacity at reservation time.
//
// priorUsage maps promotion id to the units the customer already consumed
// (committed plus pending). Promotions whose code the customer never entered
// are skipped silently; rejections are reported only for entered codes and
// for auto-applicable promotions.
func EvaluateCart(promotions []domain.Promotion, cart *domain.Cart, priorUsage map[string]int, now time.Time) ([]Candidate, []Ineligibility) {
	var (
		candidates []Candidate
		rejected   []Ineligibility
	)

	subtotal := cart.Subtotal()

	for i := range promotions {
		p := promotions[i]

		entered := p.Code != "" && cart.EnteredCode(p.Code)
		autoApplicable := p.Kind == domain.KindFlashSale && p.AutoApply ||
			p.Kind == domain.KindFreeShipping

		// Vouchers apply only when their code was entered. Flash sales without
		// auto_apply also require their code.
		if !entered && !autoApplicable {
			continue
		}

		reject := func(reason string) {
			rejected = append(rejected, Ineligibility{PromotionID: p.ID, Name: p.Name, Reason: reason})
		}

		if state := p.WindowStateAt(now); state != domain.WindowActive {
			// Silently skip auto-applicable promotions outside their window;
			// an entered code deserves an explanation.
			if entered {
				reject(fmt.Sprintf("promotion is %s", state))
			}
			continue
		}

		if !p.HasUsageHeadroom() {
			if entered {
				reject("usage limit reached")
			}
			continue
		}

		prior := priorUsage[p.ID]
		if p.MaxPerUser != nil && prior >= *p.MaxPerUser {
			if entered {
				reject("per-customer limit reached")
			}
			continue
		}

		switch p.Kind {
		case domain.KindVoucher:
			if c, reason := voucherCandidate(&p, cart, subtotal, cart.Items); reason != "" {
				reject(reason)
			} else {
				candidates = append(candidates, *c)
			}

		case domain.KindTargetedVoucher:
			lines := targetedLines(&p, cart)
			if len(lines) == 0 {
				reject("no cart items match the voucher's target")
				continue
			}
			if c, reason := voucherCandidate(&p, cart, subtotal, lines); reason != "" {
				reject(reason)
			} else {
				candidates = append(candidates, *c)
			}

		case domain.KindFlashSale:
			if c, reason := flashSaleCandidate(&p, cart, prior); reason != "" {
				if entered || p.AutoApply {
					reject(reason)
				}
			} else {
				candidates = append(candidates, *c)
			}

		case domain.KindFreeShipping:
			if c, reason := freeShippingCandidate(&p, cart, subtotal); reason != "" {
				// Free shipping rules are auto-evaluated; unmet conditions are
				// normal and not reported.
				_ = reason
			} else {
				candidates = append(candidates, *c)
			}
		}
	}

	return candidates, rejected
}

func voucherCandidate(p *domain.Promotion, cart *domain.Cart, cartSubtotal int64, lines []domain.CartItem) (*Candidate, string) {
	if cartSubtotal < p.MinPurchase {
		return nil, fmt.Sprintf("minimum purchase is %d", p.MinPurchase)
	}

	discount, lineDiscounts := voucherDiscount(p, lines)
	if discount == 0 {
		return nil, "discount amounts to nothing for this cart"
	}

	return &Candidate{
		Promotion:     *p,
		Lines:         lines,
		LineDiscounts: lineDiscounts,
		Discount:      discount,
		Units:         1,
	}, ""
}

// targetedLines returns the cart lines matching a targeted voucher's scope.
func targetedLines(p *domain.Promotion, cart *domain.Cart) []domain.CartItem {
	var lines []domain.CartItem
	for i := range cart.Items {
		item := cart.Items[i]
		switch p.TargetType {
		case domain.TargetTypeProduct:
			if item.ProductID == p.TargetID {
				lines = append(lines, item)
			}
		case domain.TargetTypeCategory:
			if item.CategoryID == p.TargetID {
				lines = append(lines, item)
			}
		}
	}
	return lines
}

func flashSaleCandidate(p *domain.Promotion, cart *domain.Cart, priorUnits int) (*Candidate, string) {
	var lines []domain.CartItem
	for i := range cart.Items {
		if p.EnrollsProduct(cart.Items[i].ProductID) {
			lines = append(lines, cart.Items[i])
		}
	}
	if len(lines) == 0 {
		return nil, "no cart items are enrolled in the sale"
	}
	if p.RemainingStock < 1 {
		return nil, "sale is sold out"
	}

	maxUnits := p.RemainingStock
	if p.MaxPerUser != nil {
		if remaining := *p.MaxPerUser - priorUnits; remaining < maxUnits {
			maxUnits = remaining
		}
	}

	discount, lineDiscounts, units := flashSaleDiscount(p, lines, maxUnits)
	if units == 0 {
		return nil, "sale discount amounts to nothing for this cart"
	}

	return &Candidate{
		Promotion:     *p,
		Lines:         lines,
		LineDiscounts: lineDiscounts,
		Discount:      discount,
		Units:         units,
	}, ""
}

func freeShippingCandidate(p *domain.Promotion, cart *domain.Cart, subtotal int64) (*Candidate, string) {
	switch p.ConditionType {
	case domain.ShippingConditionAmount:
		if subtotal < p.MinAmount {
			return nil, fmt.Sprintf("minimum order amount is %d", p.MinAmount)
		}
	case domain.ShippingConditionLocation:
		if !containsFold(p.Locations, cart.ShippingLocation) {
			return nil, "shipping location is not covered"
		}
	case domain.ShippingConditionCategory:
		matched := false
		for _, c := range p.Categories {
			if cart.HasCategory(c) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, "no cart items are in a covered category"
		}
	default:
		return nil, "unknown shipping condition"
	}

	discount := shippingDiscount(p, cart.ShippingFee)
	if discount == 0 {
		return nil, "no shipping fee to waive"
	}

	return &Candidate{
		Promotion: *p,
		Discount:  discount,
		Units:     1,
	}, ""
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
