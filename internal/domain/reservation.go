package domain

import (
	"time"
)

// Reservation status constants.
const (
	ReservationStatusPending   = "pending"
	ReservationStatusCommitted = "committed"
	ReservationStatusReleased  = "released"
	ReservationStatusExpired   = "expired"
)

// ReservationLine is a pending claim against one promotion's counters.
// Units is the flash-sale stock consumed; vouchers and shipping rules always
// consume a single use.
type ReservationLine struct {
	PromotionID string `json:"promotion_id"`
	Units       int    `json:"units"`
	Discount    int64  `json:"discount"`
}

// Reservation is an atomic, leased claim against one or more promotions'
// usage/stock counters, tied to a single order attempt. The whole set is
// reserved and released together.
type Reservation struct {
	Token      string            `json:"token"`
	CustomerID string            `json:"customer_id"`
	OrderID    string            `json:"order_id,omitempty"` // set on commit
	Lines      []ReservationLine `json:"lines"`
	Status     string            `json:"status"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

// IsPending returns true if the reservation holds capacity but is not yet durable.
func (r *Reservation) IsPending() bool {
	return r.Status == ReservationStatusPending
}

// IsExpired returns true if the lease lapsed at the given instant.
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ValidReservationStatuses returns the set of valid reservation statuses.
func ValidReservationStatuses() []string {
	return []string{ReservationStatusPending, ReservationStatusCommitted, ReservationStatusReleased, ReservationStatusExpired}
}
