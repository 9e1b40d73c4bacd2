package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/event"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

// ReservationService coordinates the reservation lifecycle: resolve the cart,
// atomically claim capacity under a lease, then commit or release. Eligibility
// runs on possibly stale counters; the repository re-validates everything
// under row locks, so losing a race surfaces here as a capacity error, never
// as oversold stock.
type ReservationService struct {
	resolution *ResolutionService
	repo       repository.ReservationRepository
	producer   *event.Producer
	logger     *slog.Logger
	leaseTTL   time.Duration
}

// NewReservationService creates a new reservation coordinator.
func NewReservationService(resolution *ResolutionService, repo repository.ReservationRepository, producer *event.Producer, logger *slog.Logger, leaseTTL time.Duration) *ReservationService {
	return &ReservationService{
		resolution: resolution,
		repo:       repo,
		producer:   producer,
		logger:     logger,
		leaseTTL:   leaseTTL,
	}
}

// ReserveResult pairs the reservation with the resolution it was built from.
type ReserveResult struct {
	Reservation *domain.Reservation
	Resolution  *Resolution
}

// Reserve resolves the cart and atomically claims capacity for the winning
// promotions under a lease. A cart that qualifies for nothing is rejected;
// call Resolve first to quote.
func (s *ReservationService) Reserve(ctx context.Context, cart *domain.Cart) (*ReserveResult, error) {
	resolution, err := s.resolution.Resolve(ctx, cart)
	if err != nil {
		return nil, err
	}

	lines := resolution.AppliedLines()
	if len(lines) == 0 {
		ReservationsTotal.WithLabelValues("not_eligible").Inc()
		return nil, apperrors.NotEligible("no promotion applies to this cart")
	}

	now := time.Now().UTC()
	res := &domain.Reservation{
		Token:      uuid.New().String(),
		CustomerID: cart.CustomerID,
		Lines:      lines,
		Status:     domain.ReservationStatusPending,
		ExpiresAt:  now.Add(s.leaseTTL),
		CreatedAt:  now,
	}

	if err := s.repo.Reserve(ctx, res); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrCapacityExceeded):
			ReservationsTotal.WithLabelValues("capacity_exceeded").Inc()
			return nil, err
		case errors.Is(err, apperrors.ErrNotFound):
			ReservationsTotal.WithLabelValues("not_found").Inc()
			return nil, err
		default:
			ReservationsTotal.WithLabelValues("error").Inc()
			return nil, apperrors.ReservationFailed(err)
		}
	}

	ReservationsTotal.WithLabelValues("ok").Inc()

	if err := s.producer.PublishReservationCreated(ctx, res); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish reservation.created event",
			slog.String("token", res.Token),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "reservation created",
		slog.String("token", res.Token),
		slog.String("customer_id", cart.CustomerID),
		slog.Int("lines", len(lines)),
		slog.Time("expires_at", res.ExpiresAt),
	)

	return &ReserveResult{Reservation: res, Resolution: resolution}, nil
}

// GetReservation retrieves a reservation by token.
func (s *ReservationService) GetReservation(ctx context.Context, token string) (*domain.Reservation, error) {
	res, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// Commit finalizes a pending reservation against a placed order. Idempotent:
// re-committing a committed reservation returns it unchanged.
func (s *ReservationService) Commit(ctx context.Context, token, orderID string) (*domain.Reservation, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}

	res, err := s.repo.Commit(ctx, token, orderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrReservationExpired) {
			s.logger.WarnContext(ctx, "commit attempted on expired reservation",
				slog.String("token", token),
				slog.String("order_id", orderID),
			)
			return nil, err
		}
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrInvalidInput) {
			return nil, err
		}
		return nil, apperrors.ReservationFailed(err)
	}

	if err := s.producer.PublishReservationCommitted(ctx, res); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish reservation.committed event",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "reservation committed",
		slog.String("token", token),
		slog.String("order_id", orderID),
	)

	return res, nil
}

// Release returns the capacity held by a pending reservation. Idempotent;
// releasing a settled reservation is a no-op.
func (s *ReservationService) Release(ctx context.Context, token string) (*domain.Reservation, error) {
	res, err := s.repo.Release(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.ReservationFailed(err)
	}

	if res.Status == domain.ReservationStatusReleased {
		if err := s.producer.PublishReservationReleased(ctx, res); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish reservation.released event",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "reservation released",
		slog.String("token", token),
		slog.String("status", res.Status),
	)

	return res, nil
}

// CleanExpired releases every reservation whose lease lapsed and emits a
// reservation.expired event per released token. Called periodically by the
// background sweeper.
func (s *ReservationService) CleanExpired(ctx context.Context) (int, error) {
	released, err := s.repo.ReleaseExpired(ctx, time.Now().UTC())
	if err != nil {
		return len(released), fmt.Errorf("release expired reservations: %w", err)
	}

	for _, res := range released {
		if err := s.producer.PublishReservationExpired(ctx, res); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish reservation.expired event",
				slog.String("token", res.Token),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(released) > 0 {
		ReservationsExpired.Add(float64(len(released)))
		s.logger.InfoContext(ctx, "expired reservations released",
			slog.Int("count", len(released)),
		)
	}

	return len(released), nil
}
