package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/cache"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/event"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

// nonAlphanumRe matches any character that is not a letter, digit, or hyphen.
var nonAlphanumRe = regexp.MustCompile(`[^A-Z0-9-]+`)

// PromotionService implements the admin-side business logic for the promotion
// catalog.
type PromotionService struct {
	repo     repository.PromotionRepository
	cache    *cache.PromotionCache
	producer *event.Producer
	logger   *slog.Logger
}

// NewPromotionService creates a new promotion service.
func NewPromotionService(repo repository.PromotionRepository, promoCache *cache.PromotionCache, producer *event.Producer, logger *slog.Logger) *PromotionService {
	return &PromotionService{
		repo:     repo,
		cache:    promoCache,
		producer: producer,
		logger:   logger,
	}
}

// CreatePromotionInput holds the parameters for creating a promotion of any kind.
type CreatePromotionInput struct {
	Name       string
	Kind       string
	IsActive   bool
	StartAt    time.Time
	EndAt      *time.Time
	UsageLimit *int
	MaxPerUser *int

	Code         string
	DiscountType string
	Value        int64
	MinPurchase  int64
	MaxDiscount  *int64

	TargetType string
	TargetID   string

	DiscountPercent int64
	TotalStock      int
	AutoApply       bool
	ProductIDs      []string

	ConditionType string
	MinAmount     int64
	Locations     []string
	Categories    []string
}

// UpdatePromotionInput holds the parameters for partially updating a promotion.
// Kind is immutable; counters are never writable through this path.
type UpdatePromotionInput struct {
	Name       *string
	IsActive   *bool
	StartAt    *time.Time
	EndAt      *time.Time
	ClearEndAt bool
	UsageLimit *int
	MaxPerUser *int

	Code         *string
	DiscountType *string
	Value        *int64
	MinPurchase  *int64
	MaxDiscount  *int64

	TargetType *string
	TargetID   *string

	DiscountPercent *int64
	AutoApply       *bool
	ProductIDs      []string

	ConditionType *string
	MinAmount     *int64
	Locations     []string
	Categories    []string
}

// CreatePromotion validates and stores a new promotion.
func (s *PromotionService) CreatePromotion(ctx context.Context, input *CreatePromotionInput) (*domain.Promotion, error) {
	if input.Name == "" {
		return nil, apperrors.InvalidInput("promotion name is required")
	}
	if !domain.IsValidKind(input.Kind) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid promotion kind %q, must be one of: %s", input.Kind, strings.Join(domain.ValidKinds(), ", ")))
	}
	if input.EndAt != nil && !input.EndAt.After(input.StartAt) {
		return nil, apperrors.InvalidInput("end time must be after start time")
	}
	if input.UsageLimit != nil && *input.UsageLimit <= 0 {
		return nil, apperrors.InvalidInput("usage limit must be positive")
	}
	if input.MaxPerUser != nil && *input.MaxPerUser <= 0 {
		return nil, apperrors.InvalidInput("per-user limit must be positive")
	}

	now := time.Now().UTC()
	promo := &domain.Promotion{
		ID:         uuid.New().String(),
		Name:       input.Name,
		Kind:       input.Kind,
		IsActive:   input.IsActive,
		StartAt:    input.StartAt,
		EndAt:      input.EndAt,
		UsageLimit: input.UsageLimit,
		MaxPerUser: input.MaxPerUser,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var err error
	switch input.Kind {
	case domain.KindVoucher, domain.KindTargetedVoucher:
		err = s.applyVoucherFields(promo, input)
	case domain.KindFlashSale:
		err = applyFlashSaleFields(promo, input)
	case domain.KindFreeShipping:
		err = applyFreeShippingFields(promo, input)
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, promo); err != nil {
		return nil, fmt.Errorf("create promotion: %w", err)
	}

	s.cache.Invalidate(ctx)

	if err := s.producer.PublishPromotionCreated(ctx, promo); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish promotion.created event",
			slog.String("promotion_id", promo.ID),
			slog.String("error", err.Error()),
		)
		// Do not fail the operation if event publishing fails.
	}

	s.logger.InfoContext(ctx, "promotion created",
		slog.String("promotion_id", promo.ID),
		slog.String("kind", promo.Kind),
		slog.String("code", promo.Code),
	)

	return promo, nil
}

func (s *PromotionService) applyVoucherFields(promo *domain.Promotion, input *CreatePromotionInput) error {
	if !domain.IsValidDiscountType(input.DiscountType) {
		return apperrors.InvalidInput(fmt.Sprintf("invalid discount type %q, must be percentage or fixed", input.DiscountType))
	}
	if input.Value <= 0 {
		return apperrors.InvalidInput("discount value must be positive")
	}
	if input.DiscountType == domain.DiscountTypePercentage && input.Value > 100 {
		return apperrors.InvalidInput("percentage discount must not exceed 100")
	}
	if input.MinPurchase < 0 {
		return apperrors.InvalidInput("minimum purchase must not be negative")
	}
	if input.MaxDiscount != nil && *input.MaxDiscount <= 0 {
		return apperrors.InvalidInput("maximum discount must be positive")
	}

	// Auto-generate a unique code if none was provided.
	code := domain.NormalizeCode(input.Code)
	if code == "" {
		code = generatePromotionCode(input.Name)
	}

	promo.Code = code
	promo.DiscountType = input.DiscountType
	promo.Value = input.Value
	promo.MinPurchase = input.MinPurchase
	promo.MaxDiscount = input.MaxDiscount

	if promo.Kind == domain.KindTargetedVoucher {
		if !domain.IsValidTargetType(input.TargetType) {
			return apperrors.InvalidInput(fmt.Sprintf("invalid target type %q, must be category or product", input.TargetType))
		}
		if input.TargetID == "" {
			return apperrors.InvalidInput("target id is required for targeted vouchers")
		}
		promo.TargetType = input.TargetType
		promo.TargetID = input.TargetID
	}

	return nil
}

func applyFlashSaleFields(promo *domain.Promotion, input *CreatePromotionInput) error {
	if input.DiscountPercent <= 0 || input.DiscountPercent > 100 {
		return apperrors.InvalidInput("flash sale discount percent must be between 1 and 100")
	}
	if input.TotalStock <= 0 {
		return apperrors.InvalidInput("flash sale stock must be positive")
	}
	if len(input.ProductIDs) == 0 {
		return apperrors.InvalidInput("flash sale requires at least one enrolled product")
	}

	promo.DiscountPercent = input.DiscountPercent
	promo.TotalStock = input.TotalStock
	promo.RemainingStock = input.TotalStock
	promo.AutoApply = input.AutoApply
	promo.ProductIDs = input.ProductIDs

	// A flash sale that does not auto-apply is only reachable through an
	// entered code, so it always gets one.
	promo.Code = domain.NormalizeCode(input.Code)
	if promo.Code == "" && !promo.AutoApply {
		promo.Code = generatePromotionCode(input.Name)
	}
	return nil
}

func applyFreeShippingFields(promo *domain.Promotion, input *CreatePromotionInput) error {
	if !domain.IsValidShippingCondition(input.ConditionType) {
		return apperrors.InvalidInput(fmt.Sprintf("invalid shipping condition %q, must be amount, location, or category", input.ConditionType))
	}
	switch input.ConditionType {
	case domain.ShippingConditionAmount:
		if input.MinAmount <= 0 {
			return apperrors.InvalidInput("minimum amount must be positive for amount-conditioned free shipping")
		}
	case domain.ShippingConditionLocation:
		if len(input.Locations) == 0 {
			return apperrors.InvalidInput("at least one location is required for location-conditioned free shipping")
		}
	case domain.ShippingConditionCategory:
		if len(input.Categories) == 0 {
			return apperrors.InvalidInput("at least one category is required for category-conditioned free shipping")
		}
	}

	promo.ConditionType = input.ConditionType
	promo.MinAmount = input.MinAmount
	promo.Locations = input.Locations
	promo.Categories = input.Categories
	promo.MaxDiscount = input.MaxDiscount
	return nil
}

// GetPromotion retrieves a promotion by its ID.
func (s *PromotionService) GetPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	promo, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get promotion by id: %w", err)
	}
	return promo, nil
}

// ListPromotions returns a filtered, paginated list of promotions.
func (s *PromotionService) ListPromotions(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}

	promotions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list promotions: %w", err)
	}

	return promotions, total, nil
}

// UpdatePromotion applies partial updates to a promotion's definitional
// fields. The kind never changes and counters are untouched.
func (s *PromotionService) UpdatePromotion(ctx context.Context, id string, input *UpdatePromotionInput) (*domain.Promotion, error) {
	promo, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get promotion for update: %w", err)
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, apperrors.InvalidInput("promotion name must not be empty")
		}
		promo.Name = *input.Name
	}
	if input.IsActive != nil {
		promo.IsActive = *input.IsActive
	}
	if input.StartAt != nil {
		promo.StartAt = *input.StartAt
	}
	if input.ClearEndAt {
		promo.EndAt = nil
	} else if input.EndAt != nil {
		promo.EndAt = input.EndAt
	}
	if promo.EndAt != nil && !promo.EndAt.After(promo.StartAt) {
		return nil, apperrors.InvalidInput("end time must be after start time")
	}
	if input.UsageLimit != nil {
		if *input.UsageLimit <= 0 {
			return nil, apperrors.InvalidInput("usage limit must be positive")
		}
		promo.UsageLimit = input.UsageLimit
	}
	if input.MaxPerUser != nil {
		if *input.MaxPerUser <= 0 {
			return nil, apperrors.InvalidInput("per-user limit must be positive")
		}
		promo.MaxPerUser = input.MaxPerUser
	}

	switch promo.Kind {
	case domain.KindVoucher, domain.KindTargetedVoucher:
		if input.Code != nil {
			code := domain.NormalizeCode(*input.Code)
			if code == "" {
				return nil, apperrors.InvalidInput("voucher code must not be empty")
			}
			promo.Code = code
		}
		if input.DiscountType != nil {
			if !domain.IsValidDiscountType(*input.DiscountType) {
				return nil, apperrors.InvalidInput(fmt.Sprintf("invalid discount type %q, must be percentage or fixed", *input.DiscountType))
			}
			promo.DiscountType = *input.DiscountType
		}
		if input.Value != nil {
			if *input.Value <= 0 {
				return nil, apperrors.InvalidInput("discount value must be positive")
			}
			promo.Value = *input.Value
		}
		if promo.DiscountType == domain.DiscountTypePercentage && promo.Value > 100 {
			return nil, apperrors.InvalidInput("percentage discount must not exceed 100")
		}
		if input.MinPurchase != nil {
			if *input.MinPurchase < 0 {
				return nil, apperrors.InvalidInput("minimum purchase must not be negative")
			}
			promo.MinPurchase = *input.MinPurchase
		}
		if input.MaxDiscount != nil {
			if *input.MaxDiscount <= 0 {
				return nil, apperrors.InvalidInput("maximum discount must be positive")
			}
			promo.MaxDiscount = input.MaxDiscount
		}
		if promo.Kind == domain.KindTargetedVoucher {
			if input.TargetType != nil {
				if !domain.IsValidTargetType(*input.TargetType) {
					return nil, apperrors.InvalidInput(fmt.Sprintf("invalid target type %q, must be category or product", *input.TargetType))
				}
				promo.TargetType = *input.TargetType
			}
			if input.TargetID != nil {
				if *input.TargetID == "" {
					return nil, apperrors.InvalidInput("target id must not be empty")
				}
				promo.TargetID = *input.TargetID
			}
		}

	case domain.KindFlashSale:
		if input.DiscountPercent != nil {
			if *input.DiscountPercent <= 0 || *input.DiscountPercent > 100 {
				return nil, apperrors.InvalidInput("flash sale discount percent must be between 1 and 100")
			}
			promo.DiscountPercent = *input.DiscountPercent
		}
		if input.Code != nil {
			code := domain.NormalizeCode(*input.Code)
			if code == "" {
				return nil, apperrors.InvalidInput("flash sale code must not be empty")
			}
			promo.Code = code
		}
		if input.AutoApply != nil {
			promo.AutoApply = *input.AutoApply
		}
		// Flipping off auto-apply must leave the sale reachable by code.
		if !promo.AutoApply && promo.Code == "" {
			promo.Code = generatePromotionCode(promo.Name)
		}
		if input.ProductIDs != nil {
			if len(input.ProductIDs) == 0 {
				return nil, apperrors.InvalidInput("flash sale requires at least one enrolled product")
			}
			promo.ProductIDs = input.ProductIDs
		}

	case domain.KindFreeShipping:
		if input.ConditionType != nil {
			if !domain.IsValidShippingCondition(*input.ConditionType) {
				return nil, apperrors.InvalidInput(fmt.Sprintf("invalid shipping condition %q, must be amount, location, or category", *input.ConditionType))
			}
			promo.ConditionType = *input.ConditionType
		}
		if input.MinAmount != nil {
			promo.MinAmount = *input.MinAmount
		}
		if input.Locations != nil {
			promo.Locations = input.Locations
		}
		if input.Categories != nil {
			promo.Categories = input.Categories
		}
		if input.MaxDiscount != nil {
			promo.MaxDiscount = input.MaxDiscount
		}
	}

	promo.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, promo); err != nil {
		return nil, fmt.Errorf("update promotion: %w", err)
	}

	s.cache.Invalidate(ctx)

	if err := s.producer.PublishPromotionUpdated(ctx, promo); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish promotion.updated event",
			slog.String("promotion_id", promo.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "promotion updated",
		slog.String("promotion_id", promo.ID),
		slog.String("kind", promo.Kind),
	)

	return promo, nil
}

// DeactivatePromotion disables a promotion without archiving it. Disabled
// promotions stop applying immediately but can be re-enabled.
func (s *PromotionService) DeactivatePromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	active := false
	return s.UpdatePromotion(ctx, id, &UpdatePromotionInput{IsActive: &active})
}

// ArchivePromotion soft-deletes a promotion. Archived promotions stay
// referenceable by past orders but never apply or update again.
func (s *PromotionService) ArchivePromotion(ctx context.Context, id string) error {
	promo, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get promotion for archive: %w", err)
	}

	if err := s.repo.Archive(ctx, id); err != nil {
		return fmt.Errorf("archive promotion: %w", err)
	}

	promo.Archived = true
	promo.IsActive = false

	s.cache.Invalidate(ctx)

	if err := s.producer.PublishPromotionArchived(ctx, promo); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish promotion.archived event",
			slog.String("promotion_id", promo.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "promotion archived",
		slog.String("promotion_id", promo.ID),
	)

	return nil
}

// generatePromotionCode creates a human-readable voucher code from the
// promotion name by slugifying it and appending a 4-character random hex
// suffix. Example: "Payday Sale 2026" -> "PAYDAY-SALE-2026-A3F2".
func generatePromotionCode(name string) string {
	slug := strings.ToUpper(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")
	slug = nonAlphanumRe.ReplaceAllString(slug, "")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	// Keep the total code within the 50-char column limit, leaving room for
	// "-" plus 4 hex chars.
	const maxSlugLen = 44
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRight(slug, "-")
	}

	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		b = []byte(uuid.New().String()[:2])
	}
	suffix := strings.ToUpper(hex.EncodeToString(b))

	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}
