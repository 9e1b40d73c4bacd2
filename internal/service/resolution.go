package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/cache"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

// Resolution is the outcome of evaluating a cart against the current
// promotion set: which promotions will apply, their monetary effect, and why
// the rest did not qualify. It is a quote, not a claim; capacity is only held
// once the customer reserves.
type Resolution struct {
	Discount *Candidate
	Shipping *Candidate
	Rejected []Ineligibility

	Subtotal         int64
	DiscountAmount   int64
	ShippingDiscount int64
	Total            int64
	ShippingFee      int64
}

// AppliedLines returns the reservation lines for the chosen promotions.
func (r *Resolution) AppliedLines() []domain.ReservationLine {
	var lines []domain.ReservationLine
	if r.Discount != nil {
		lines = append(lines, domain.ReservationLine{
			PromotionID: r.Discount.Promotion.ID,
			Units:       r.Discount.Units,
			Discount:    r.Discount.Discount,
		})
	}
	if r.Shipping != nil {
		lines = append(lines, domain.ReservationLine{
			PromotionID: r.Shipping.Promotion.ID,
			Units:       r.Shipping.Units,
			Discount:    r.Shipping.Discount,
		})
	}
	return lines
}

// ResolutionService evaluates carts against the live promotion set. Reads go
// through the Redis cache first; a cache miss or Redis outage falls through to
// PostgreSQL.
type ResolutionService struct {
	promos repository.PromotionRepository
	resvs  repository.ReservationRepository
	cache  *cache.PromotionCache
	logger *slog.Logger
}

// NewResolutionService creates a new resolution service.
func NewResolutionService(promos repository.PromotionRepository, resvs repository.ReservationRepository, promoCache *cache.PromotionCache, logger *slog.Logger) *ResolutionService {
	return &ResolutionService{
		promos: promos,
		resvs:  resvs,
		cache:  promoCache,
		logger: logger,
	}
}

// Resolve evaluates the cart and returns the winning promotion combination.
// An entered code that matches no known promotion fails the whole resolution;
// a known code that does not qualify shows up in Rejected instead.
func (s *ResolutionService) Resolve(ctx context.Context, cart *domain.Cart) (*Resolution, error) {
	start := time.Now()
	defer func() { ResolutionDuration.Observe(time.Since(start).Seconds()) }()

	if cart.CustomerID == "" {
		return nil, apperrors.InvalidInput("customer id is required")
	}
	if len(cart.Items) == 0 {
		return nil, apperrors.InvalidInput("cart must contain at least one item")
	}
	for i := range cart.Items {
		if cart.Items[i].Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %s quantity must be positive", cart.Items[i].ProductID))
		}
		if cart.Items[i].UnitPrice < 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("item %s unit price must not be negative", cart.Items[i].ProductID))
		}
	}

	now := time.Now().UTC()

	promotions, err := s.currentPromotions(ctx, now)
	if err != nil {
		ResolutionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	promotions, err = s.resolveEnteredCodes(ctx, cart, promotions)
	if err != nil {
		ResolutionsTotal.WithLabelValues("invalid_code").Inc()
		return nil, err
	}

	priorUsage, err := s.priorUsage(ctx, cart.CustomerID, promotions)
	if err != nil {
		ResolutionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	candidates, rejected := EvaluateCart(promotions, cart, priorUsage, now)
	stacked := ResolveStacking(candidates)

	resolution := &Resolution{
		Discount:    stacked.Discount,
		Shipping:    stacked.Shipping,
		Rejected:    rejected,
		Subtotal:    cart.Subtotal(),
		ShippingFee: cart.ShippingFee,
	}
	if stacked.Discount != nil {
		resolution.DiscountAmount = stacked.Discount.Discount
	}
	if stacked.Shipping != nil {
		resolution.ShippingDiscount = stacked.Shipping.Discount
	}
	resolution.Total = resolution.Subtotal - resolution.DiscountAmount +
		resolution.ShippingFee - resolution.ShippingDiscount
	if resolution.Total < 0 {
		resolution.Total = 0
	}

	ResolutionsTotal.WithLabelValues("ok").Inc()

	s.logger.DebugContext(ctx, "cart resolved",
		slog.String("customer_id", cart.CustomerID),
		slog.Int64("subtotal", resolution.Subtotal),
		slog.Int64("discount", resolution.DiscountAmount),
		slog.Int64("shipping_discount", resolution.ShippingDiscount),
		slog.Int("rejected", len(rejected)),
	)

	return resolution, nil
}

// currentPromotions returns the active promotion set, cache first.
func (s *ResolutionService) currentPromotions(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	if cached, ok := s.cache.GetActiveSet(ctx); ok {
		CacheHits.WithLabelValues("hit").Inc()
		// The cached set may contain entries whose window lapsed since
		// caching; EvaluateCart re-checks windows in-process.
		return cached, nil
	}
	CacheHits.WithLabelValues("miss").Inc()

	promotions, err := s.promos.ListCurrent(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list current promotions: %w", err)
	}

	s.cache.SetActiveSet(ctx, promotions)
	return promotions, nil
}

// resolveEnteredCodes maps every code the customer entered to a promotion. A
// code matching nothing fails the whole resolution. A code whose promotion
// exists but fell out of the current set (disabled, scheduled, expired) is
// appended so the eligibility filter can reject it with a reason instead.
func (s *ResolutionService) resolveEnteredCodes(ctx context.Context, cart *domain.Cart, promotions []domain.Promotion) ([]domain.Promotion, error) {
	for _, entered := range cart.VoucherCodes {
		code := domain.NormalizeCode(entered)
		if code == "" {
			return nil, apperrors.InvalidInput("voucher code must not be empty")
		}

		known := false
		for i := range promotions {
			if promotions[i].Code == code {
				known = true
				break
			}
		}
		if known {
			continue
		}

		promo, err := s.promos.GetByCode(ctx, code)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.InvalidCode(entered)
			}
			return nil, fmt.Errorf("look up entered code: %w", err)
		}
		promotions = append(promotions, *promo)
	}
	return promotions, nil
}

func (s *ResolutionService) priorUsage(ctx context.Context, customerID string, promotions []domain.Promotion) (map[string]int, error) {
	limited := make([]string, 0, len(promotions))
	for i := range promotions {
		if promotions[i].MaxPerUser != nil {
			limited = append(limited, promotions[i].ID)
		}
	}
	if len(limited) == 0 {
		return map[string]int{}, nil
	}

	usage, err := s.resvs.PriorUsage(ctx, customerID, limited)
	if err != nil {
		return nil, fmt.Errorf("load prior usage: %w", err)
	}
	return usage, nil
}
