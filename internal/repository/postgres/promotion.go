package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zaidandhul/bismarshop-promo-engine/internal/domain"
	"github.com/zaidandhul/bismarshop-promo-engine/internal/repository"
	"github.com/zaidandhul/bismarshop-promo-engine/pkg/database"
	apperrors "github.com/zaidandhul/bismarshop-promo-engine/pkg/errors"
)

// promotionColumns is the column list shared by every promotion query.
const promotionColumns = `
	id, name, kind, is_active, archived, start_at, end_at,
	usage_limit, used_count, max_per_user,
	code, discount_type, value, min_purchase, max_discount,
	target_type, target_id,
	discount_percent, total_stock, remaining_stock, auto_apply, product_ids,
	condition_type, min_amount, locations, categories,
	created_at, updated_at`

// PromotionRepository implements repository.PromotionRepository using PostgreSQL.
type PromotionRepository struct {
	pool database.DBTX
}

// NewPromotionRepository creates a new PostgreSQL-backed promotion repository.
func NewPromotionRepository(pool database.DBTX) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// Create inserts a new promotion into the catalog.
func (r *PromotionRepository) Create(ctx context.Context, p *domain.Promotion) error {
	productsJSON, locationsJSON, categoriesJSON, err := marshalLists(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO promotions (
			id, name, kind, is_active, archived, start_at, end_at,
			usage_limit, used_count, max_per_user,
			code, discount_type, value, min_purchase, max_discount,
			target_type, target_id,
			discount_percent, total_stock, remaining_stock, auto_apply, product_ids,
			condition_type, min_amount, locations, categories,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
		)`

	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.Name,
		p.Kind,
		p.IsActive,
		p.Archived,
		p.StartAt,
		p.EndAt,
		p.UsageLimit,
		p.UsedCount,
		p.MaxPerUser,
		nullableCode(p.Code),
		p.DiscountType,
		p.Value,
		p.MinPurchase,
		p.MaxDiscount,
		p.TargetType,
		p.TargetID,
		p.DiscountPercent,
		p.TotalStock,
		p.RemainingStock,
		p.AutoApply,
		productsJSON,
		p.ConditionType,
		p.MinAmount,
		locationsJSON,
		categoriesJSON,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("promotion", "code", p.Code)
		}
		return fmt.Errorf("insert promotion: %w", err)
	}

	return nil
}

// GetByID retrieves a promotion by its ID.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*domain.Promotion, error) {
	query := `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`
	return r.scanPromotion(ctx, query, id)
}

// GetByCode retrieves a promotion by its normalized voucher code.
func (r *PromotionRepository) GetByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	// Archived promotions free their code for reuse, so only live rows match.
	query := `SELECT ` + promotionColumns + ` FROM promotions WHERE code = $1 AND archived = false`
	return r.scanPromotion(ctx, query, domain.NormalizeCode(code))
}

// List returns promotions matching the given filter with the total count.
func (r *PromotionRepository) List(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, *filter.Kind)
		argIndex++
	}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argIndex))
		args = append(args, *filter.Active)
		argIndex++
	}

	if !filter.IncludeArchived {
		conditions = append(conditions, "archived = false")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM promotions
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		promotionColumns, whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list promotions: %w", err)
	}
	defer rows.Close()

	var (
		promotions []domain.Promotion
		totalCount int
	)

	for rows.Next() {
		p, total, err := scanPromotionRow(rows, true)
		if err != nil {
			return nil, 0, fmt.Errorf("scan promotion row: %w", err)
		}
		totalCount = total
		promotions = append(promotions, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate promotion rows: %w", err)
	}

	if promotions == nil {
		promotions = []domain.Promotion{}
	}

	return promotions, totalCount, nil
}

// ListCurrent returns all admin-enabled, non-archived promotions whose window
// has started and not definitively ended at the given instant. The caller
// re-evaluates the window state in-process; counters come back fresh.
func (r *PromotionRepository) ListCurrent(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	query := `
		SELECT ` + promotionColumns + `
		FROM promotions
		WHERE is_active = true
		  AND archived = false
		  AND start_at <= $1
		  AND (end_at IS NULL OR end_at >= $1)
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list current promotions: %w", err)
	}
	defer rows.Close()

	var promotions []domain.Promotion
	for rows.Next() {
		p, _, err := scanPromotionRow(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan current promotion row: %w", err)
		}
		promotions = append(promotions, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate current promotion rows: %w", err)
	}

	return promotions, nil
}

// Update modifies a promotion's definitional fields. Counter columns
// (used_count, remaining_stock) are deliberately absent from the SET list;
// only the reservation coordinator writes them.
func (r *PromotionRepository) Update(ctx context.Context, p *domain.Promotion) error {
	productsJSON, locationsJSON, categoriesJSON, err := marshalLists(p)
	if err != nil {
		return err
	}

	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE promotions
		SET name = $1, is_active = $2, start_at = $3, end_at = $4,
		    usage_limit = $5, max_per_user = $6,
		    code = $7, discount_type = $8, value = $9, min_purchase = $10, max_discount = $11,
		    target_type = $12, target_id = $13,
		    discount_percent = $14, total_stock = $15, auto_apply = $16, product_ids = $17,
		    condition_type = $18, min_amount = $19, locations = $20, categories = $21,
		    updated_at = $22
		WHERE id = $23 AND archived = false`

	ct, err := r.pool.Exec(ctx, query,
		p.Name,
		p.IsActive,
		p.StartAt,
		p.EndAt,
		p.UsageLimit,
		p.MaxPerUser,
		nullableCode(p.Code),
		p.DiscountType,
		p.Value,
		p.MinPurchase,
		p.MaxDiscount,
		p.TargetType,
		p.TargetID,
		p.DiscountPercent,
		p.TotalStock,
		p.AutoApply,
		productsJSON,
		p.ConditionType,
		p.MinAmount,
		locationsJSON,
		categoriesJSON,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("promotion", "code", p.Code)
		}
		return fmt.Errorf("update promotion: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("promotion", p.ID)
	}

	return nil
}

// Archive soft-archives a promotion. The row survives so past orders keep a
// valid reference.
func (r *PromotionRepository) Archive(ctx context.Context, id string) error {
	query := `
		UPDATE promotions
		SET archived = true, is_active = false, updated_at = NOW()
		WHERE id = $1 AND archived = false`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("archive promotion: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("promotion", id)
	}

	return nil
}

// scanPromotion executes a query expected to return a single promotion row.
func (r *PromotionRepository) scanPromotion(ctx context.Context, query string, args ...any) (*domain.Promotion, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query promotion: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query promotion: %w", err)
		}
		return nil, apperrors.ErrNotFound
	}

	p, _, err := scanPromotionRow(rows, false)
	if err != nil {
		return nil, fmt.Errorf("scan promotion: %w", err)
	}

	return p, nil
}

// scanPromotionRow scans one promotion row, optionally with a trailing
// total_count column.
func scanPromotionRow(rows pgx.Rows, withTotal bool) (*domain.Promotion, int, error) {
	var (
		p              domain.Promotion
		code           *string
		productsJSON   []byte
		locationsJSON  []byte
		categoriesJSON []byte
		totalCount     int
	)

	dest := []any{
		&p.ID, &p.Name, &p.Kind, &p.IsActive, &p.Archived, &p.StartAt, &p.EndAt,
		&p.UsageLimit, &p.UsedCount, &p.MaxPerUser,
		&code, &p.DiscountType, &p.Value, &p.MinPurchase, &p.MaxDiscount,
		&p.TargetType, &p.TargetID,
		&p.DiscountPercent, &p.TotalStock, &p.RemainingStock, &p.AutoApply, &productsJSON,
		&p.ConditionType, &p.MinAmount, &locationsJSON, &categoriesJSON,
		&p.CreatedAt, &p.UpdatedAt,
	}
	if withTotal {
		dest = append(dest, &totalCount)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, 0, err
	}

	if code != nil {
		p.Code = *code
	}

	if err := unmarshalList(productsJSON, &p.ProductIDs); err != nil {
		return nil, 0, fmt.Errorf("unmarshal product_ids: %w", err)
	}
	if err := unmarshalList(locationsJSON, &p.Locations); err != nil {
		return nil, 0, fmt.Errorf("unmarshal locations: %w", err)
	}
	if err := unmarshalList(categoriesJSON, &p.Categories); err != nil {
		return nil, 0, fmt.Errorf("unmarshal categories: %w", err)
	}

	return &p, totalCount, nil
}

func marshalLists(p *domain.Promotion) (products, locations, categories []byte, err error) {
	if products, err = json.Marshal(emptyIfNil(p.ProductIDs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal product_ids: %w", err)
	}
	if locations, err = json.Marshal(emptyIfNil(p.Locations)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal locations: %w", err)
	}
	if categories, err = json.Marshal(emptyIfNil(p.Categories)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal categories: %w", err)
	}
	return products, locations, categories, nil
}

func unmarshalList(data []byte, target *[]string) error {
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	if len(*target) == 0 {
		*target = nil
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullableCode stores empty codes as NULL so the unique index only applies to
// real codes.
func nullableCode(code string) *string {
	if code == "" {
		return nil
	}
	return &code
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
