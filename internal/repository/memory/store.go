package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

// Store is an in-memory implementation of the promotion and reservation
// repositories. It holds one mutex per promotion and acquires them in
// ascending id order during multi-promotion reservations, mirroring the
// row-lock discipline of the PostgreSQL backend. Used in tests and for
// single-node development without a database.
type Store struct {
	mu           sync.RWMutex
	promotions   map[string]*domain.Promotion
	reservations map[string]*domain.Reservation
	usages       []domain.PromotionUsage

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		promotions:   make(map[string]*domain.Promotion),
		reservations: make(map[string]*domain.Reservation),
		locks:        make(map[string]*sync.Mutex),
	}
}

var (
	_ repository.PromotionRepository   = (*Store)(nil)
	_ repository.ReservationRepository = (*Store)(nil)
)

// promotionLock returns the per-promotion mutex, creating it on first use.
func (s *Store) promotionLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create stores a new promotion.
func (s *Store) Create(ctx context.Context, p *domain.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.promotions[p.ID]; exists {
		return apperrors.AlreadyExists("promotion", "id", p.ID)
	}
	if p.Code != "" {
		for _, other := range s.promotions {
			if !other.Archived && other.Code == p.Code {
				return apperrors.AlreadyExists("promotion", "code", p.Code)
			}
		}
	}

	clone := *p
	s.promotions[p.ID] = &clone
	return nil
}

// GetByID retrieves a promotion by id.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.promotions[id]
	if !ok {
		return nil, apperrors.NotFound("promotion", id)
	}
	clone := *p
	return &clone, nil
}

// GetByCode retrieves a non-archived promotion by its normalized code.
func (s *Store) GetByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.promotions {
		if !p.Archived && p.Code != "" && p.Code == code {
			clone := *p
			return &clone, nil
		}
	}
	return nil, apperrors.NotFound("promotion code", code)
}

// List returns promotions matching the filter, ordered by id, with the total count.
func (s *Store) List(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Promotion
	for _, p := range s.promotions {
		if p.Archived && !filter.IncludeArchived {
			continue
		}
		if filter.Kind != nil && p.Kind != *filter.Kind {
			continue
		}
		if filter.Active != nil && p.IsActive != *filter.Active {
			continue
		}
		matched = append(matched, p)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = total
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * perPage
	}
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}

	out := make([]domain.Promotion, 0, end-offset)
	for _, p := range matched[offset:end] {
		out = append(out, *p)
	}
	return out, total, nil
}

// ListCurrent returns active, non-archived promotions whose window contains now.
func (s *Store) ListCurrent(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Promotion
	for _, p := range s.promotions {
		if p.WindowStateAt(now) != domain.WindowActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update replaces a promotion's definitional fields, leaving counters intact.
func (s *Store) Update(ctx context.Context, p *domain.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.promotions[p.ID]
	if !ok || existing.Archived {
		return apperrors.NotFound("promotion", p.ID)
	}

	clone := *p
	clone.UsedCount = existing.UsedCount
	clone.RemainingStock = existing.RemainingStock
	clone.CreatedAt = existing.CreatedAt
	s.promotions[p.ID] = &clone
	return nil
}

// Archive soft-deletes a promotion.
func (s *Store) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.promotions[id]
	if !ok || p.Archived {
		return apperrors.NotFound("promotion", id)
	}
	p.Archived = true
	p.IsActive = false
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Reserve atomically claims capacity for every line, all-or-nothing. Locks are
// taken in ascending promotion-id order to avoid deadlock between concurrent
// multi-promotion reservations.
func (s *Store) Reserve(ctx context.Context, res *domain.Reservation) error {
	lines := make([]domain.ReservationLine, len(res.Lines))
	copy(lines, res.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].PromotionID < lines[j].PromotionID })

	locked := make([]*sync.Mutex, 0, len(lines))
	unlock := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
	for _, line := range lines {
		l := s.promotionLock(line.PromotionID)
		l.Lock()
		locked = append(locked, l)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every line before touching any counter.
	for _, line := range lines {
		p, ok := s.promotions[line.PromotionID]
		if !ok || p.Archived {
			return apperrors.NotFound("promotion", line.PromotionID)
		}
		if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
			return apperrors.CapacityExceeded(line.PromotionID)
		}
		if p.Kind == domain.KindFlashSale && p.RemainingStock < line.Units {
			return apperrors.CapacityExceeded(line.PromotionID)
		}
		if p.MaxPerUser != nil {
			prior := s.customerUnitsLocked(res.CustomerID, line.PromotionID)
			if prior+line.Units > *p.MaxPerUser {
				return apperrors.CapacityExceeded(line.PromotionID)
			}
		}
	}

	for _, line := range lines {
		p := s.promotions[line.PromotionID]
		p.UsedCount++
		if p.Kind == domain.KindFlashSale {
			p.RemainingStock -= line.Units
		}
	}

	clone := *res
	clone.Lines = lines
	clone.Status = domain.ReservationStatusPending
	s.reservations[res.Token] = &clone
	return nil
}

// customerUnitsLocked sums committed usage plus pending reservation units for
// one customer against one promotion. Caller holds s.mu.
func (s *Store) customerUnitsLocked(customerID, promotionID string) int {
	units := 0
	for _, u := range s.usages {
		if u.CustomerID == customerID && u.PromotionID == promotionID {
			units += u.Units
		}
	}
	for _, r := range s.reservations {
		if r.CustomerID != customerID || r.Status != domain.ReservationStatusPending {
			continue
		}
		for _, line := range r.Lines {
			if line.PromotionID == promotionID {
				units += line.Units
			}
		}
	}
	return units
}

// GetByToken retrieves a reservation.
func (s *Store) GetByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.reservations[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *res
	return &clone, nil
}

// Commit finalizes a pending reservation, writing usage rows. Idempotent on
// repeat; a lapsed lease is released and reported as expired.
func (s *Store) Commit(ctx context.Context, token, orderID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	switch res.Status {
	case domain.ReservationStatusCommitted:
		clone := *res
		return &clone, nil
	case domain.ReservationStatusReleased:
		return nil, apperrors.InvalidInput("reservation " + token + " was already released")
	case domain.ReservationStatusExpired:
		return nil, apperrors.ReservationExpired(token)
	}

	now := time.Now().UTC()
	if res.IsExpired(now) {
		s.restoreLinesLocked(res.Lines)
		res.Status = domain.ReservationStatusExpired
		return nil, apperrors.ReservationExpired(token)
	}

	res.Status = domain.ReservationStatusCommitted
	res.OrderID = orderID
	for _, line := range res.Lines {
		s.usages = append(s.usages, domain.PromotionUsage{
			PromotionID:     line.PromotionID,
			CustomerID:      res.CustomerID,
			OrderID:         orderID,
			Units:           line.Units,
			DiscountApplied: line.Discount,
			CreatedAt:       now,
		})
	}

	clone := *res
	return &clone, nil
}

// Release restores counters for a pending reservation. No-op if the
// reservation already reached a terminal status.
func (s *Store) Release(ctx context.Context, token string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(token, domain.ReservationStatusReleased)
}

func (s *Store) releaseLocked(token, newStatus string) (*domain.Reservation, error) {
	res, ok := s.reservations[token]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	if res.Status != domain.ReservationStatusPending {
		clone := *res
		return &clone, nil
	}

	s.restoreLinesLocked(res.Lines)
	res.Status = newStatus

	clone := *res
	return &clone, nil
}

func (s *Store) restoreLinesLocked(lines []domain.ReservationLine) {
	for _, line := range lines {
		p, ok := s.promotions[line.PromotionID]
		if !ok {
			continue
		}
		if p.UsedCount > 0 {
			p.UsedCount--
		}
		if p.Kind == domain.KindFlashSale {
			p.RemainingStock += line.Units
			if p.RemainingStock > p.TotalStock {
				p.RemainingStock = p.TotalStock
			}
		}
	}
}

// ReleaseExpired releases every pending reservation whose lease lapsed before now.
func (s *Store) ReleaseExpired(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []*domain.Reservation
	for token, res := range s.reservations {
		if res.Status != domain.ReservationStatusPending || !res.IsExpired(now) {
			continue
		}
		expired, err := s.releaseLocked(token, domain.ReservationStatusExpired)
		if err != nil {
			return released, err
		}
		released = append(released, expired)
	}
	return released, nil
}

// PriorUsage returns consumed units per promotion for a customer.
func (s *Store) PriorUsage(ctx context.Context, customerID string, promotionIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := make(map[string]int, len(promotionIDs))
	for _, id := range promotionIDs {
		if units := s.customerUnitsLocked(customerID, id); units > 0 {
			usage[id] = units
		}
	}
	return usage, nil
}

// SeedPromotion inserts a promotion directly, normalizing its code. Test helper.
func (s *Store) SeedPromotion(p *domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	clone.Code = strings.ToUpper(strings.TrimSpace(clone.Code))
	s.promotions[clone.ID] = &clone
}
