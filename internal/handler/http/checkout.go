package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/service"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/httputil"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/validator"
)

// CheckoutHandler handles the checkout-facing endpoints: resolving a cart
// against the promotion set and driving the reservation lifecycle.
type CheckoutHandler struct {
	resolution  *service.ResolutionService
	reservation *service.ReservationService
	logger      *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(resolution *service.ResolutionService, reservation *service.ReservationService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		resolution:  resolution,
		reservation: reservation,
		logger:      logger,
	}
}

// --- Request DTOs ---

// CartItemRequest is one cart line in a resolve or reserve request.
type CartItemRequest struct {
	ProductID  string `json:"product_id" validate:"required"`
	CategoryID string `json:"category_id"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice  int64  `json:"unit_price" validate:"gte=0"`
}

// ResolveRequest is the JSON request body for resolving a cart.
type ResolveRequest struct {
	CustomerID       string            `json:"customer_id" validate:"required"`
	Items            []CartItemRequest `json:"items" validate:"required,min=1,dive"`
	VoucherCodes     []string          `json:"voucher_codes" validate:"max=5"`
	ShippingLocation string            `json:"shipping_location"`
	ShippingFee      int64             `json:"shipping_fee" validate:"gte=0"`
}

// CommitRequest is the JSON request body for committing a reservation.
type CommitRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

// --- Response DTOs ---

// AppliedPromotion describes one promotion that will apply to the order.
type AppliedPromotion struct {
	PromotionID   string                 `json:"promotion_id"`
	Name          string                 `json:"name"`
	Kind          string                 `json:"kind"`
	Code          string                 `json:"code,omitempty"`
	Discount      int64                  `json:"discount"`
	Units         int                    `json:"units,omitempty"`
	LineDiscounts []service.LineDiscount `json:"line_discounts,omitempty"`
}

// ResolveResponse is the quote returned by the resolve endpoint.
type ResolveResponse struct {
	Discount *AppliedPromotion       `json:"discount,omitempty"`
	Shipping *AppliedPromotion       `json:"shipping,omitempty"`
	Rejected []service.Ineligibility `json:"rejected,omitempty"`

	Subtotal         int64 `json:"subtotal"`
	DiscountAmount   int64 `json:"discount_amount"`
	ShippingFee      int64 `json:"shipping_fee"`
	ShippingDiscount int64 `json:"shipping_discount"`
	Total            int64 `json:"total"`
}

// ReserveResponse pairs the reservation token and lease with the quote it locks in.
type ReserveResponse struct {
	Token      string          `json:"token"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Resolution ResolveResponse `json:"resolution"`
}

func toResolveResponse(res *service.Resolution) ResolveResponse {
	out := ResolveResponse{
		Rejected:         res.Rejected,
		Subtotal:         res.Subtotal,
		DiscountAmount:   res.DiscountAmount,
		ShippingFee:      res.ShippingFee,
		ShippingDiscount: res.ShippingDiscount,
		Total:            res.Total,
	}
	if res.Discount != nil {
		out.Discount = toAppliedPromotion(res.Discount)
	}
	if res.Shipping != nil {
		out.Shipping = toAppliedPromotion(res.Shipping)
	}
	return out
}

func toAppliedPromotion(c *service.Candidate) *AppliedPromotion {
	return &AppliedPromotion{
		PromotionID:   c.Promotion.ID,
		Name:          c.Promotion.Name,
		Kind:          c.Promotion.Kind,
		Code:          c.Promotion.Code,
		Discount:      c.Discount,
		Units:         c.Units,
		LineDiscounts: c.LineDiscounts,
	}
}

func toCart(req *ResolveRequest) *domain.Cart {
	items := make([]domain.CartItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.CartItem{
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}
	return &domain.Cart{
		CustomerID:       req.CustomerID,
		Items:            items,
		VoucherCodes:     req.VoucherCodes,
		ShippingLocation: req.ShippingLocation,
		ShippingFee:      req.ShippingFee,
	}
}

// --- Handlers ---

// Resolve handles POST /api/v1/promotions/resolve
func (h *CheckoutHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req ResolveRequest
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

	resolution, err := h.resolution.Resolve(r.Context(), toCart(&req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: toResolveResponse(resolution)})
}

// Reserve handles POST /api/v1/reservations
func (h *CheckoutHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req ResolveRequest
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

	result, err := h.reservation.Reserve(r.Context(), toCart(&req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: ReserveResponse{
		Token:      result.Reservation.Token,
		ExpiresAt:  result.Reservation.ExpiresAt,
		Resolution: toResolveResponse(result.Resolution),
	}})
}

// GetReservation handles GET /api/v1/reservations/{token}
func (h *CheckoutHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "reservation token is required"},
		})
		return
	}

	res, err := h.reservation.GetReservation(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// Commit handles POST /api/v1/reservations/{token}/commit
func (h *CheckoutHandler) Commit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	token := chi.URLParam(r, "token")
	if token == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "reservation token is required"},
		})
		return
	}

	var req CommitRequest
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

	res, err := h.reservation.Commit(r.Context(), token, req.OrderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// Release handles POST /api/v1/reservations/{token}/release
func (h *CheckoutHandler) Release(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "reservation token is required"},
		})
		return
	}

	res, err := h.reservation.Release(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}
