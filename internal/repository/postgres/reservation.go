package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/database"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

// ReservationRepository implements repository.ReservationRepository using
// PostgreSQL row-level locks. Every counter mutation happens inside a single
// transaction with SELECT ... FOR UPDATE on the promotion row, so two
// concurrent checkouts can never both get the last unit even when their
// eligibility was computed from stale reads.
type ReservationRepository struct {
	pool database.DBTX
}

// NewReservationRepository creates a new PostgreSQL-backed reservation repository.
func NewReservationRepository(pool database.DBTX) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

// Reserve atomically claims capacity for every line, all-or-nothing. Rows are
// locked in ascending promotion-id order so two orders reserving the same two
// promotions cannot deadlock.
func (r *ReservationRepository) Reserve(ctx context.Context, res *domain.Reservation) error {
	lines := make([]domain.ReservationLine, len(res.Lines))
	copy(lines, res.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].PromotionID < lines[j].PromotionID })

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin reserve transaction: %w", err)
	}
	// Rollback after failed capacity checks discards every increment already made.
	defer func() { _ = tx.Rollback(ctx) }()

	for _, line := range lines {
		if err := r.reserveLine(ctx, tx, res.CustomerID, line); err != nil {
			return err
		}
	}

	insertQuery := `
		INSERT INTO reservations (token, customer_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = tx.Exec(ctx, insertQuery,
		res.Token,
		res.CustomerID,
		domain.ReservationStatusPending,
		res.ExpiresAt,
		res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	lineQuery := `
		INSERT INTO reservation_lines (reservation_token, promotion_id, units, discount)
		VALUES ($1, $2, $3, $4)`

	for _, line := range lines {
		if _, err := tx.Exec(ctx, lineQuery, res.Token, line.PromotionID, line.Units, line.Discount); err != nil {
			return fmt.Errorf("insert reservation line: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reserve transaction: %w", err)
	}

	return nil
}

// reserveLine locks one promotion row, re-checks capacity, and increments its
// counters.
func (r *ReservationRepository) reserveLine(ctx context.Context, tx pgx.Tx, customerID string, line domain.ReservationLine) error {
	var (
		kind           string
		usedCount      int
		usageLimit     *int
		remainingStock int
		maxPerUser     *int
	)

	lockQuery := `
		SELECT kind, used_count, usage_limit, remaining_stock, max_per_user
		FROM promotions
		WHERE id = $1 AND archived = false
		FOR UPDATE`

	err := tx.QueryRow(ctx, lockQuery, line.PromotionID).Scan(&kind, &usedCount, &usageLimit, &remainingStock, &maxPerUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("promotion", line.PromotionID)
		}
		return fmt.Errorf("lock promotion row: %w", err)
	}

	if usageLimit != nil && usedCount >= *usageLimit {
		return apperrors.CapacityExceeded(line.PromotionID)
	}

	if kind == domain.KindFlashSale && remainingStock < line.Units {
		return apperrors.CapacityExceeded(line.PromotionID)
	}

	if maxPerUser != nil {
		prior, err := r.customerUnits(ctx, tx, customerID, line.PromotionID)
		if err != nil {
			return err
		}
		if prior+line.Units > *maxPerUser {
			return apperrors.CapacityExceeded(line.PromotionID)
		}
	}

	updateQuery := `
		UPDATE promotions
		SET used_count = used_count + 1,
		    remaining_stock = CASE WHEN kind = $2 THEN remaining_stock - $3 ELSE remaining_stock END,
		    updated_at = NOW()
		WHERE id = $1`

	if _, err := tx.Exec(ctx, updateQuery, line.PromotionID, domain.KindFlashSale, line.Units); err != nil {
		return fmt.Errorf("increment promotion counters: %w", err)
	}

	return nil
}

// customerUnits sums the units a customer already holds against a promotion:
// committed usage rows plus still-pending reservations.
func (r *ReservationRepository) customerUnits(ctx context.Context, tx pgx.Tx, customerID, promotionID string) (int, error) {
	query := `
		SELECT
			COALESCE((SELECT SUM(units) FROM promotion_usages
			          WHERE promotion_id = $1 AND customer_id = $2), 0) +
			COALESCE((SELECT SUM(rl.units) FROM reservation_lines rl
			          JOIN reservations r ON r.token = rl.reservation_token
			          WHERE rl.promotion_id = $1 AND r.customer_id = $2 AND r.status = $3), 0)`

	var units int
	if err := tx.QueryRow(ctx, query, promotionID, customerID, domain.ReservationStatusPending).Scan(&units); err != nil {
		return 0, fmt.Errorf("sum customer units: %w", err)
	}
	return units, nil
}

// GetByToken retrieves a reservation with its lines.
func (r *ReservationRepository) GetByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	query := `
		SELECT token, customer_id, COALESCE(order_id, ''), status, expires_at, created_at
		FROM reservations
		WHERE token = $1`

	var res domain.Reservation
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&res.Token,
		&res.CustomerID,
		&res.OrderID,
		&res.Status,
		&res.ExpiresAt,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}

	lines, err := r.lines(ctx, token)
	if err != nil {
		return nil, err
	}
	res.Lines = lines

	return &res, nil
}

func (r *ReservationRepository) lines(ctx context.Context, token string) ([]domain.ReservationLine, error) {
	query := `
		SELECT promotion_id, units, discount
		FROM reservation_lines
		WHERE reservation_token = $1
		ORDER BY promotion_id`

	rows, err := r.pool.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("list reservation lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.ReservationLine
	for rows.Next() {
		var line domain.ReservationLine
		if err := rows.Scan(&line.PromotionID, &line.Units, &line.Discount); err != nil {
			return nil, fmt.Errorf("scan reservation line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation lines: %w", err)
	}

	return lines, nil
}

// Commit finalizes a pending reservation: marks it committed, stamps the order
// id, and writes one usage row per line. Committing twice is a no-op the
// second time. A lapsed lease is released instead and reported as expired.
func (r *ReservationRepository) Commit(ctx context.Context, token, orderID string) (*domain.Reservation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := r.lockReservation(ctx, tx, token)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case domain.ReservationStatusCommitted:
		// Retried commit after a durable order; nothing left to do.
		return res, tx.Commit(ctx)
	case domain.ReservationStatusReleased:
		return nil, apperrors.InvalidInput(fmt.Sprintf("reservation %s was already released", token))
	case domain.ReservationStatusExpired:
		return nil, apperrors.ReservationExpired(token)
	}

	now := time.Now().UTC()
	if res.IsExpired(now) {
		if err := r.restoreLines(ctx, tx, res.Lines); err != nil {
			return nil, err
		}
		if err := r.setStatus(ctx, tx, token, domain.ReservationStatusExpired, nil); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit expiry transaction: %w", err)
		}
		return nil, apperrors.ReservationExpired(token)
	}

	if err := r.setStatus(ctx, tx, token, domain.ReservationStatusCommitted, &orderID); err != nil {
		return nil, err
	}

	usageQuery := `
		INSERT INTO promotion_usages (id, promotion_id, customer_id, order_id, units, discount_applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, line := range res.Lines {
		_, err := tx.Exec(ctx, usageQuery,
			uuid.New().String(),
			line.PromotionID,
			res.CustomerID,
			orderID,
			line.Units,
			line.Discount,
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert usage row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit commit transaction: %w", err)
	}

	res.Status = domain.ReservationStatusCommitted
	res.OrderID = orderID
	return res, nil
}

// Release restores the counters claimed by a pending reservation. Releasing a
// reservation that is no longer pending is a no-op, which makes retried
// failure paths safe.
func (r *ReservationRepository) Release(ctx context.Context, token string) (*domain.Reservation, error) {
	return r.release(ctx, token, domain.ReservationStatusReleased)
}

func (r *ReservationRepository) release(ctx context.Context, token, newStatus string) (*domain.Reservation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin release transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := r.lockReservation(ctx, tx, token)
	if err != nil {
		return nil, err
	}

	// Already committed, released, or expired: counters are settled.
	if res.Status != domain.ReservationStatusPending {
		return res, tx.Commit(ctx)
	}

	if err := r.restoreLines(ctx, tx, res.Lines); err != nil {
		return nil, err
	}
	if err := r.setStatus(ctx, tx, token, newStatus, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit release transaction: %w", err)
	}

	res.Status = newStatus
	return res, nil
}

// ReleaseExpired releases every pending reservation whose lease lapsed before
// now, marking them expired for tracking.
func (r *ReservationRepository) ReleaseExpired(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	query := `
		SELECT token
		FROM reservations
		WHERE status = $1 AND expires_at < $2`

	rows, err := r.pool.Query(ctx, query, domain.ReservationStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired token: %w", err)
		}
		tokens = append(tokens, token)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired tokens: %w", err)
	}

	released := make([]*domain.Reservation, 0, len(tokens))
	for _, token := range tokens {
		// Each release re-checks status under lock, so a racing commit wins.
		res, err := r.release(ctx, token, domain.ReservationStatusExpired)
		if err != nil {
			return released, fmt.Errorf("release expired reservation %s: %w", token, err)
		}
		released = append(released, res)
	}

	return released, nil
}

// PriorUsage returns, per promotion id, the units the customer has already
// consumed: committed usage plus still-pending reservations.
func (r *ReservationRepository) PriorUsage(ctx context.Context, customerID string, promotionIDs []string) (map[string]int, error) {
	usage := make(map[string]int, len(promotionIDs))
	if len(promotionIDs) == 0 {
		return usage, nil
	}

	query := `
		SELECT promotion_id, SUM(units)::int
		FROM (
			SELECT promotion_id, units
			FROM promotion_usages
			WHERE customer_id = $1 AND promotion_id = ANY($2)
			UNION ALL
			SELECT rl.promotion_id, rl.units
			FROM reservation_lines rl
			JOIN reservations r ON r.token = rl.reservation_token
			WHERE r.customer_id = $1 AND r.status = $3 AND rl.promotion_id = ANY($2)
		) consumed
		GROUP BY promotion_id`

	rows, err := r.pool.Query(ctx, query, customerID, promotionIDs, domain.ReservationStatusPending)
	if err != nil {
		return nil, fmt.Errorf("query prior usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			promotionID string
			units       int
		)
		if err := rows.Scan(&promotionID, &units); err != nil {
			return nil, fmt.Errorf("scan prior usage row: %w", err)
		}
		usage[promotionID] = units
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prior usage rows: %w", err)
	}

	return usage, nil
}

// lockReservation loads a reservation and its lines under FOR UPDATE so
// concurrent commit/release/sweep calls serialize per token.
func (r *ReservationRepository) lockReservation(ctx context.Context, tx pgx.Tx, token string) (*domain.Reservation, error) {
	query := `
		SELECT token, customer_id, COALESCE(order_id, ''), status, expires_at, created_at
		FROM reservations
		WHERE token = $1
		FOR UPDATE`

	var res domain.Reservation
	err := tx.QueryRow(ctx, query, token).Scan(
		&res.Token,
		&res.CustomerID,
		&res.OrderID,
		&res.Status,
		&res.ExpiresAt,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("lock reservation: %w", err)
	}

	lineQuery := `
		SELECT promotion_id, units, discount
		FROM reservation_lines
		WHERE reservation_token = $1
		ORDER BY promotion_id`

	rows, err := tx.Query(ctx, lineQuery, token)
	if err != nil {
		return nil, fmt.Errorf("list locked reservation lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.ReservationLine
		if err := rows.Scan(&line.PromotionID, &line.Units, &line.Discount); err != nil {
			return nil, fmt.Errorf("scan locked reservation line: %w", err)
		}
		res.Lines = append(res.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked reservation lines: %w", err)
	}

	return &res, nil
}

// restoreLines gives back the capacity claimed by the reservation's lines,
// clamped so counters never leave their valid ranges.
func (r *ReservationRepository) restoreLines(ctx context.Context, tx pgx.Tx, lines []domain.ReservationLine) error {
	query := `
		UPDATE promotions
		SET used_count = GREATEST(used_count - 1, 0),
		    remaining_stock = CASE WHEN kind = $2 THEN LEAST(remaining_stock + $3, total_stock) ELSE remaining_stock END,
		    updated_at = NOW()
		WHERE id = $1`

	for _, line := range lines {
		if _, err := tx.Exec(ctx, query, line.PromotionID, domain.KindFlashSale, line.Units); err != nil {
			return fmt.Errorf("restore promotion counters: %w", err)
		}
	}

	return nil
}

func (r *ReservationRepository) setStatus(ctx context.Context, tx pgx.Tx, token, status string, orderID *string) error {
	query := `
		UPDATE reservations
		SET status = $1, order_id = COALESCE($2, order_id)
		WHERE token = $3`

	if _, err := tx.Exec(ctx, query, status, orderID, token); err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}

	return nil
}
