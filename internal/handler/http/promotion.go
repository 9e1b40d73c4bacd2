package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/service"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/httputil"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/validator"
)

// PromotionHandler handles admin HTTP requests for the promotion catalog.
type PromotionHandler struct {
	service *service.PromotionService
	logger  *slog.Logger
}

// NewPromotionHandler creates a new promotion HTTP handler.
func NewPromotionHandler(svc *service.PromotionService, logger *slog.Logger) *PromotionHandler {
	return &PromotionHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreatePromotionRequest is the JSON request body for creating a promotion.
// Fields beyond the shared ones apply per kind; the service rejects records
// missing their kind's required fields.
type CreatePromotionRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=255"`
	Kind       string `json:"kind" validate:"required,oneof=voucher targeted_voucher flash_sale free_shipping"`
	IsActive   bool   `json:"is_active"`
	StartAt    string `json:"start_at" validate:"required"`
	EndAt      *string `json:"end_at"`
	UsageLimit *int   `json:"usage_limit" validate:"omitempty,gt=0"`
	MaxPerUser *int   `json:"max_per_user" validate:"omitempty,gt=0"`

	Code         string `json:"code" validate:"max=50"`
	DiscountType string `json:"discount_type" validate:"omitempty,oneof=percentage fixed"`
	Value        int64  `json:"value" validate:"gte=0"`
	MinPurchase  int64  `json:"min_purchase" validate:"gte=0"`
	MaxDiscount  *int64 `json:"max_discount" validate:"omitempty,gt=0"`

	TargetType string `json:"target_type" validate:"omitempty,oneof=category product"`
	TargetID   string `json:"target_id"`

	DiscountPercent int64    `json:"discount_percent" validate:"gte=0,lte=100"`
	TotalStock      int      `json:"total_stock" validate:"gte=0"`
	AutoApply       bool     `json:"auto_apply"`
	ProductIDs      []string `json:"product_ids"`

	ConditionType string   `json:"condition_type" validate:"omitempty,oneof=amount location category"`
	MinAmount     int64    `json:"min_amount" validate:"gte=0"`
	Locations     []string `json:"locations"`
	Categories    []string `json:"categories"`
}

// UpdatePromotionRequest is the JSON request body for partially updating a
// promotion. Absent fields stay unchanged; end_at accepts an empty string to
// make the window open-ended.
type UpdatePromotionRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=255"`
	IsActive   *bool   `json:"is_active"`
	StartAt    *string `json:"start_at"`
	EndAt      *string `json:"end_at"`
	UsageLimit *int    `json:"usage_limit" validate:"omitempty,gt=0"`
	MaxPerUser *int    `json:"max_per_user" validate:"omitempty,gt=0"`

	Code         *string `json:"code" validate:"omitempty,min=1,max=50"`
	DiscountType *string `json:"discount_type" validate:"omitempty,oneof=percentage fixed"`
	Value        *int64  `json:"value" validate:"omitempty,gt=0"`
	MinPurchase  *int64  `json:"min_purchase" validate:"omitempty,gte=0"`
	MaxDiscount  *int64  `json:"max_discount" validate:"omitempty,gt=0"`

	TargetType *string `json:"target_type" validate:"omitempty,oneof=category product"`
	TargetID   *string `json:"target_id"`

	DiscountPercent *int64   `json:"discount_percent" validate:"omitempty,gt=0,lte=100"`
	AutoApply       *bool    `json:"auto_apply"`
	ProductIDs      []string `json:"product_ids"`

	ConditionType *string  `json:"condition_type" validate:"omitempty,oneof=amount location category"`
	MinAmount     *int64   `json:"min_amount" validate:"omitempty,gte=0"`
	Locations     []string `json:"locations"`
	Categories    []string `json:"categories"`
}

// --- Handlers ---

// CreatePromotion handles POST /api/v1/promotions
func (h *PromotionHandler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req CreatePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "start_at must be in RFC3339 format"},
		})
		return
	}

	var endAt *time.Time
	if req.EndAt != nil && *req.EndAt != "" {
		t, err := time.Parse(time.RFC3339, *req.EndAt)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "end_at must be in RFC3339 format"},
			})
			return
		}
		endAt = &t
	}

	input := &service.CreatePromotionInput{
		Name:            req.Name,
		Kind:            req.Kind,
		IsActive:        req.IsActive,
		StartAt:         startAt,
		EndAt:           endAt,
		UsageLimit:      req.UsageLimit,
		MaxPerUser:      req.MaxPerUser,
		Code:            req.Code,
		DiscountType:    req.DiscountType,
		Value:           req.Value,
		MinPurchase:     req.MinPurchase,
		MaxDiscount:     req.MaxDiscount,
		TargetType:      req.TargetType,
		TargetID:        req.TargetID,
		DiscountPercent: req.DiscountPercent,
		TotalStock:      req.TotalStock,
		AutoApply:       req.AutoApply,
		ProductIDs:      req.ProductIDs,
		ConditionType:   req.ConditionType,
		MinAmount:       req.MinAmount,
		Locations:       req.Locations,
		Categories:      req.Categories,
	}

	promo, err := h.service.CreatePromotion(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: promo})
}

// ListPromotions handles GET /api/v1/promotions
func (h *PromotionHandler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	filter := repository.PromotionFilter{
		Page:    1,
		PerPage: 20,
	}

	if v := r.URL.Query().Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if perPage, err := strconv.Atoi(v); err == nil && perPage > 0 && perPage <= 100 {
			filter.PerPage = perPage
		}
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		filter.Kind = &v
	}
	if v := r.URL.Query().Get("active"); v != "" {
		if active, err := strconv.ParseBool(v); err == nil {
			filter.Active = &active
		}
	}
	if v := r.URL.Query().Get("include_archived"); v != "" {
		if inc, err := strconv.ParseBool(v); err == nil {
			filter.IncludeArchived = inc
		}
	}

	promotions, total, err := h.service.ListPromotions(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(promotions, total, filter.Page, filter.PerPage))
}

// GetPromotion handles GET /api/v1/promotions/{id}
func (h *PromotionHandler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "promotion id is required"},
		})
		return
	}

	promo, err := h.service.GetPromotion(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: promo})
}

// UpdatePromotion handles PUT /api/v1/promotions/{id}
func (h *PromotionHandler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "promotion id is required"},
		})
		return
	}

	var req UpdatePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := &service.UpdatePromotionInput{
		Name:            req.Name,
		IsActive:        req.IsActive,
		UsageLimit:      req.UsageLimit,
		MaxPerUser:      req.MaxPerUser,
		Code:            req.Code,
		DiscountType:    req.DiscountType,
		Value:           req.Value,
		MinPurchase:     req.MinPurchase,
		MaxDiscount:     req.MaxDiscount,
		TargetType:      req.TargetType,
		TargetID:        req.TargetID,
		DiscountPercent: req.DiscountPercent,
		AutoApply:       req.AutoApply,
		ProductIDs:      req.ProductIDs,
		ConditionType:   req.ConditionType,
		MinAmount:       req.MinAmount,
		Locations:       req.Locations,
		Categories:      req.Categories,
	}

	if req.StartAt != nil {
		startAt, err := time.Parse(time.RFC3339, *req.StartAt)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "start_at must be in RFC3339 format"},
			})
			return
		}
		input.StartAt = &startAt
	}

	if req.EndAt != nil {
		if *req.EndAt == "" {
			input.ClearEndAt = true
		} else {
			endAt, err := time.Parse(time.RFC3339, *req.EndAt)
			if err != nil {
				httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "end_at must be in RFC3339 format"},
				})
				return
			}
			input.EndAt = &endAt
		}
	}

	promo, err := h.service.UpdatePromotion(r.Context(), id, input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: promo})
}

// DeactivatePromotion handles POST /api/v1/promotions/{id}/deactivate
func (h *PromotionHandler) DeactivatePromotion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "promotion id is required"},
		})
		return
	}

	promo, err := h.service.DeactivatePromotion(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: promo})
}

// ArchivePromotion handles DELETE /api/v1/promotions/{id}
func (h *PromotionHandler) ArchivePromotion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "promotion id is required"},
		})
		return
	}

	if err := h.service.ArchivePromotion(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusNoContent, nil)
}
