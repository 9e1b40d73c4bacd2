package repository

import (
	"context"
	"time"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
)

// PromotionFilter defines filter criteria for listing promotions.
type PromotionFilter struct {
	Kind            *string
	Active          *bool
	IncludeArchived bool
	Page            int
	PerPage         int
}

// PromotionRepository defines the interface for promotion catalog persistence.
// Definitional fields only: used_count and remaining_stock are owned by the
// reservation coordinator and must never be written through Update.
type PromotionRepository interface {
	// Create inserts a new promotion into the catalog.
	Create(ctx context.Context, p *domain.Promotion) error

	// GetByID retrieves a promotion by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Promotion, error)

	// GetByCode retrieves a promotion by its normalized voucher code.
	GetByCode(ctx context.Context, code string) (*domain.Promotion, error)

	// List returns promotions matching the given filter along with the total count.
	List(ctx context.Context, filter PromotionFilter) ([]domain.Promotion, int, error)

	// ListCurrent returns all non-archived, admin-enabled promotions whose
	// window could be active at the given instant. Counters are read fresh;
	// the caller re-evaluates the window in-process.
	ListCurrent(ctx context.Context, now time.Time) ([]domain.Promotion, error)

	// Update modifies a promotion's definitional fields. Counter columns are
	// not touched.
	Update(ctx context.Context, p *domain.Promotion) error

	// Archive soft-archives a promotion. Archived promotions stay
	// referenceable by past orders but never apply again.
	Archive(ctx context.Context, id string) error
}

// ReservationRepository defines the atomic counter operations behind the
// reservation coordinator. Implementations must guarantee that Reserve
// re-checks capacity and increments counters in one atomic step per promotion
// record, with ascending promotion-id lock ordering across a set.
type ReservationRepository interface {
	// Reserve atomically claims capacity for every line of the reservation,
	// all-or-nothing. On insufficient capacity it returns an error matching
	// apperrors.ErrCapacityExceeded and leaves all counters untouched.
	Reserve(ctx context.Context, res *domain.Reservation) error

	// GetByToken retrieves a reservation by its token.
	GetByToken(ctx context.Context, token string) (*domain.Reservation, error)

	// Commit finalizes a pending reservation and records usage rows for the
	// given order. Committing an already-committed reservation is a no-op.
	// A lapsed lease is released and reported as apperrors.ErrReservationExpired.
	Commit(ctx context.Context, token, orderID string) (*domain.Reservation, error)

	// Release restores the counters claimed by a pending reservation.
	// Idempotent: releasing an already-released or expired reservation is a
	// no-op the second time.
	Release(ctx context.Context, token string) (*domain.Reservation, error)

	// ReleaseExpired releases every pending reservation whose lease lapsed
	// before now and returns the released reservations.
	ReleaseExpired(ctx context.Context, now time.Time) ([]*domain.Reservation, error)

	// PriorUsage returns, per promotion id, how many units the customer has
	// already consumed: committed usage plus still-pending reservations.
	PriorUsage(ctx context.Context, customerID string, promotionIDs []string) (map[string]int, error)
}
