package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/service"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/health"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/middleware"
)

// NewRouter creates a chi router with all promotion engine routes registered.
func NewRouter(
	promotionService *service.PromotionService,
	resolutionService *service.ResolutionService,
	reservationService *service.ReservationService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS)
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("promo"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	promotionHandler := NewPromotionHandler(promotionService, logger)
	checkoutHandler := NewCheckoutHandler(resolutionService, reservationService, logger)

	// Admin catalog endpoints
	r.Route("/api/v1/promotions", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", promotionHandler.CreatePromotion)
		r.Get("/", promotionHandler.ListPromotions)

		// Resolve must come before /{id} to avoid route conflicts.
		r.Post("/resolve", checkoutHandler.Resolve)

		r.Get("/{id}", promotionHandler.GetPromotion)
		r.Put("/{id}", promotionHandler.UpdatePromotion)
		r.Post("/{id}/deactivate", promotionHandler.DeactivatePromotion)
		r.Delete("/{id}", promotionHandler.ArchivePromotion)
	})

	// Reservation lifecycle endpoints
	r.Route("/api/v1/reservations", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", checkoutHandler.Reserve)
		r.Get("/{token}", checkoutHandler.GetReservation)
		r.Post("/{token}/commit", checkoutHandler.Commit)
		r.Post("/{token}/release", checkoutHandler.Release)
	})

	return r
}
