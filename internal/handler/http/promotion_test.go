package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/cache"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/event"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository/memory"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/service"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/httputil"
	pkgkafka "github.com/zaidandhul/bismarshop-promo-engine/pkg/kafka"
)

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// handlerEnv wires the full handler stack over the in-memory store. Redis and
// Kafka point at nothing, so cache misses fall through to the store and event
// publish failures are logged rather than surfaced.
type handlerEnv struct {
	store  *memory.Store
	router *chi.Mux
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	logger := testLogger()
	store := memory.NewStore()

	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:16379", DialTimeout: 50 * time.Millisecond})
	promoCache := cache.NewPromotionCache(redisClient, 30*time.Second, logger)

	kafkaProducer := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      []string{"localhost:19092"},
		BatchSize:    1,
		BatchTimeout: time.Millisecond,
	}, logger)
	producer := event.NewProducer(kafkaProducer, logger)

	promotions := service.NewPromotionService(store, promoCache, producer, logger)
	resolution := service.NewResolutionService(store, store, promoCache, logger)
	reservation := service.NewReservationService(resolution, store, producer, logger, 15*time.Minute)

	promotionHandler := NewPromotionHandler(promotions, logger)
	checkoutHandler := NewCheckoutHandler(resolution, reservation, logger)

	// Route layout matches production, without the middleware stack.
	r := chi.NewRouter()
	r.Route("/api/v1/promotions", func(r chi.Router) {
		r.Post("/", promotionHandler.CreatePromotion)
		r.Get("/", promotionHandler.ListPromotions)
		r.Post("/resolve", checkoutHandler.Resolve)
		r.Get("/{id}", promotionHandler.GetPromotion)
		r.Put("/{id}", promotionHandler.UpdatePromotion)
		r.Post("/{id}/deactivate", promotionHandler.DeactivatePromotion)
		r.Delete("/{id}", promotionHandler.ArchivePromotion)
	})
	r.Route("/api/v1/reservations", func(r chi.Router) {
		r.Post("/", checkoutHandler.Reserve)
		r.Get("/{token}", checkoutHandler.GetReservation)
		r.Post("/{token}/commit", checkoutHandler.Commit)
		r.Post("/{token}/release", checkoutHandler.Release)
	})

	return &handlerEnv{store: store, router: r}
}

func (e *handlerEnv) do(method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

type listResponse = httputil.PaginatedResponse[domain.Promotion]

func decodeListResponse(t *testing.T, rec *httptest.ResponseRecorder) listResponse {
	t.Helper()
	var resp listResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

// decodePromotion re-marshals the generic Data field into a Promotion.
func decodePromotion(t *testing.T, rec *httptest.ResponseRecorder) domain.Promotion {
	t.Helper()
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)
	b, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var promo domain.Promotion
	require.NoError(t, json.Unmarshal(b, &promo))
	return promo
}

func validCreateVoucherJSON() []byte {
	now := time.Now().UTC()
	req := CreatePromotionRequest{
		Name:         "Summer voucher",
		Kind:         domain.KindVoucher,
		IsActive:     true,
		StartAt:      now.Add(-time.Hour).Format(time.RFC3339),
		Code:         "SUMMER20",
		DiscountType: domain.DiscountTypePercentage,
		Value:        20,
		MinPurchase:  5000,
	}
	b, _ := json.Marshal(req)
	return b
}

// ============================================================================
// POST /api/v1/promotions - CreatePromotion
// ============================================================================

func TestCreatePromotion_Success(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON())

	assert.Equal(t, http.StatusCreated, rec.Code)
	promo := decodePromotion(t, rec)
	assert.NotEmpty(t, promo.ID)
	assert.Equal(t, "SUMMER20", promo.Code)
	assert.Equal(t, domain.KindVoucher, promo.Kind)
}

func TestCreatePromotion_InvalidJSON(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/promotions", []byte(`{invalid json`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "invalid request body")
}

func TestCreatePromotion_ValidationError_MissingName(t *testing.T) {
	env := newHandlerEnv(t)

	req := CreatePromotionRequest{
		// Name intentionally omitted
		Kind:    domain.KindVoucher,
		StartAt: time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(req)

	rec := env.do(http.MethodPost, "/api/v1/promotions", b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestCreatePromotion_ValidationError_UnknownKind(t *testing.T) {
	env := newHandlerEnv(t)

	req := CreatePromotionRequest{
		Name:    "Mystery deal",
		Kind:    "bogo",
		StartAt: time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(req)

	rec := env.do(http.MethodPost, "/api/v1/promotions", b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestCreatePromotion_InvalidStartAtFormat(t *testing.T) {
	env := newHandlerEnv(t)

	req := CreatePromotionRequest{
		Name:         "Summer voucher",
		Kind:         domain.KindVoucher,
		StartAt:      "2026-06-01", // not RFC3339
		Code:         "SUMMER20",
		DiscountType: domain.DiscountTypePercentage,
		Value:        20,
	}
	b, _ := json.Marshal(req)

	rec := env.do(http.MethodPost, "/api/v1/promotions", b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "start_at must be in RFC3339 format")
}

func TestCreatePromotion_InvalidEndAtFormat(t *testing.T) {
	env := newHandlerEnv(t)

	endAt := "not-a-date"
	req := CreatePromotionRequest{
		Name:         "Summer voucher",
		Kind:         domain.KindVoucher,
		StartAt:      time.Now().UTC().Format(time.RFC3339),
		EndAt:        &endAt,
		Code:         "SUMMER20",
		DiscountType: domain.DiscountTypePercentage,
		Value:        20,
	}
	b, _ := json.Marshal(req)

	rec := env.do(http.MethodPost, "/api/v1/promotions", b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "end_at must be in RFC3339 format")
}

func TestCreatePromotion_DuplicateCode(t *testing.T) {
	env := newHandlerEnv(t)

	first := env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON())
	require.Equal(t, http.StatusCreated, first.Code)

	rec := env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON())

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ALREADY_EXISTS", resp.Error.Code)
}

func TestCreatePromotion_MissingKindFields(t *testing.T) {
	env := newHandlerEnv(t)

	// A voucher without a discount type fails the service's per-kind checks.
	req := CreatePromotionRequest{
		Name:    "Broken voucher",
		Kind:    domain.KindVoucher,
		StartAt: time.Now().UTC().Format(time.RFC3339),
		Code:    "BROKEN",
	}
	b, _ := json.Marshal(req)

	rec := env.do(http.MethodPost, "/api/v1/promotions", b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

// ============================================================================
// GET /api/v1/promotions - ListPromotions
// ============================================================================

func TestListPromotions_Success(t *testing.T) {
	env := newHandlerEnv(t)

	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()).Code)

	rec := env.do(http.MethodGet, "/api/v1/promotions", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	listResp := decodeListResponse(t, rec)
	assert.Equal(t, 1, listResp.TotalCount)
	assert.Equal(t, 1, listResp.Page)
	assert.Equal(t, 20, listResp.PerPage)
	assert.Len(t, listResp.Data, 1)
	assert.False(t, listResp.HasNext)
}

func TestListPromotions_FilterByKind(t *testing.T) {
	env := newHandlerEnv(t)

	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()).Code)

	rec := env.do(http.MethodGet, "/api/v1/promotions?kind=flash_sale", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	listResp := decodeListResponse(t, rec)
	assert.Equal(t, 0, listResp.TotalCount)
	assert.Empty(t, listResp.Data)
}

func TestListPromotions_IgnoresInvalidPagination(t *testing.T) {
	env := newHandlerEnv(t)

	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()).Code)

	// Out-of-range values fall back to the defaults instead of erroring.
	rec := env.do(http.MethodGet, "/api/v1/promotions?page=0&per_page=999", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	listResp := decodeListResponse(t, rec)
	assert.Equal(t, 1, listResp.Page)
	assert.Equal(t, 20, listResp.PerPage)
}

// ============================================================================
// GET /api/v1/promotions/{id} - GetPromotion
// ============================================================================

func TestGetPromotion_Success(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	rec := env.do(http.MethodGet, "/api/v1/promotions/"+created.ID, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	promo := decodePromotion(t, rec)
	assert.Equal(t, created.ID, promo.ID)
	assert.Equal(t, "SUMMER20", promo.Code)
}

func TestGetPromotion_NotFound(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/promotions/missing-id", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

// ============================================================================
// PUT /api/v1/promotions/{id} - UpdatePromotion
// ============================================================================

func TestUpdatePromotion_Success(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	newName := "Renamed voucher"
	b, _ := json.Marshal(UpdatePromotionRequest{Name: &newName})

	rec := env.do(http.MethodPut, "/api/v1/promotions/"+created.ID, b)

	assert.Equal(t, http.StatusOK, rec.Code)
	promo := decodePromotion(t, rec)
	assert.Equal(t, "Renamed voucher", promo.Name)
	assert.Equal(t, "SUMMER20", promo.Code) // untouched fields survive
}

func TestUpdatePromotion_InvalidJSON(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	rec := env.do(http.MethodPut, "/api/v1/promotions/"+created.ID, []byte(`{bad json`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

func TestUpdatePromotion_NotFound(t *testing.T) {
	env := newHandlerEnv(t)

	newName := "Renamed voucher"
	b, _ := json.Marshal(UpdatePromotionRequest{Name: &newName})

	rec := env.do(http.MethodPut, "/api/v1/promotions/missing-id", b)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestUpdatePromotion_EndBeforeStart(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	now := time.Now().UTC()
	startAt := now.Add(48 * time.Hour).Format(time.RFC3339)
	endAt := now.Add(24 * time.Hour).Format(time.RFC3339)
	b, _ := json.Marshal(UpdatePromotionRequest{StartAt: &startAt, EndAt: &endAt})

	rec := env.do(http.MethodPut, "/api/v1/promotions/"+created.ID, b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "end time must be after start time")
}

func TestUpdatePromotion_InvalidStartAtFormat(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	badDate := "2026-06-01"
	b, _ := json.Marshal(UpdatePromotionRequest{StartAt: &badDate})

	rec := env.do(http.MethodPut, "/api/v1/promotions/"+created.ID, b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "start_at must be in RFC3339 format")
}

// ============================================================================
// POST /api/v1/promotions/{id}/deactivate - DeactivatePromotion
// ============================================================================

func TestDeactivatePromotion_Success(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	rec := env.do(http.MethodPost, "/api/v1/promotions/"+created.ID+"/deactivate", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	promo := decodePromotion(t, rec)
	assert.False(t, promo.IsActive)
}

func TestDeactivatePromotion_NotFound(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/promotions/missing-id/deactivate", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

// ============================================================================
// DELETE /api/v1/promotions/{id} - ArchivePromotion
// ============================================================================

func TestArchivePromotion_Success(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	rec := env.do(http.MethodDelete, "/api/v1/promotions/"+created.ID, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Archived promotions stay readable by id but disappear from the default list.
	getRec := env.do(http.MethodGet, "/api/v1/promotions/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, getRec.Code)
	assert.True(t, decodePromotion(t, getRec).Archived)

	listResp := decodeListResponse(t, env.do(http.MethodGet, "/api/v1/promotions", nil))
	assert.Equal(t, 0, listResp.TotalCount)
}

func TestArchivePromotion_Twice(t *testing.T) {
	env := newHandlerEnv(t)

	created := decodePromotion(t, env.do(http.MethodPost, "/api/v1/promotions", validCreateVoucherJSON()))

	require.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/api/v1/promotions/"+created.ID, nil).Code)

	rec := env.do(http.MethodDelete, "/api/v1/promotions/"+created.ID, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
