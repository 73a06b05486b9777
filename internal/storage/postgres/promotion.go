package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

const promotionColumns = `id, name, kind, status, priority, COALESCE(code, ''), visual_ref, usage_count,
	min_order_amount, max_order_amount, min_items, max_items,
	order_types, product_ids, category_ids, days_of_week, time_start, time_end,
	start_date, end_date, usage_limit, per_customer_limit, first_order_only, rule,
	discount_type, discount_value, discount_scope, discount_product_ids, discount_category_ids,
	max_discount_amount, buy_quantity, get_quantity`

const (
	listActivePromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions WHERE status = 'active'`

	getPromotionByCodeSQL = `SELECT ` + promotionColumns + `
		FROM promotions WHERE code = $1 AND kind = 'promo_code' AND status = 'active'`

	getPromotionByIDSQL = `SELECT ` + promotionColumns + `
		FROM promotions WHERE id = $1`

	incrementUsageSQL = `UPDATE promotions SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	promotionExistsSQL = `SELECT EXISTS (SELECT 1 FROM promotions WHERE id = $1)`

	insertUsageSQL = `INSERT INTO promotion_usages (id, promotion_id, order_id, customer_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	countCustomerUsageSQL = `SELECT count(*) FROM promotion_usages
		WHERE promotion_id = $1 AND customer_id = $2`

	upsertPromotionSQL = `INSERT INTO promotions (
		id, name, kind, status, priority, code, visual_ref,
		min_order_amount, max_order_amount, min_items, max_items,
		order_types, product_ids, category_ids, days_of_week, time_start, time_end,
		start_date, end_date, usage_limit, per_customer_limit, first_order_only, rule,
		discount_type, discount_value, discount_scope, discount_product_ids, discount_category_ids,
		max_discount_amount, buy_quantity, get_quantity
	) VALUES (
		$1, $2, $3, $4, $5, NULLIF($6, ''), $7,
		$8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23,
		$24, $25, $26, $27, $28,
		$29, $30, $31
	)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		kind = EXCLUDED.kind,
		status = EXCLUDED.status,
		priority = EXCLUDED.priority,
		code = EXCLUDED.code,
		visual_ref = EXCLUDED.visual_ref,
		min_order_amount = EXCLUDED.min_order_amount,
		max_order_amount = EXCLUDED.max_order_amount,
		min_items = EXCLUDED.min_items,
		max_items = EXCLUDED.max_items,
		order_types = EXCLUDED.order_types,
		product_ids = EXCLUDED.product_ids,
		category_ids = EXCLUDED.category_ids,
		days_of_week = EXCLUDED.days_of_week,
		time_start = EXCLUDED.time_start,
		time_end = EXCLUDED.time_end,
		start_date = EXCLUDED.start_date,
		end_date = EXCLUDED.end_date,
		usage_limit = EXCLUDED.usage_limit,
		per_customer_limit = EXCLUDED.per_customer_limit,
		first_order_only = EXCLUDED.first_order_only,
		rule = EXCLUDED.rule,
		discount_type = EXCLUDED.discount_type,
		discount_value = EXCLUDED.discount_value,
		discount_scope = EXCLUDED.discount_scope,
		discount_product_ids = EXCLUDED.discount_product_ids,
		discount_category_ids = EXCLUDED.discount_category_ids,
		max_discount_amount = EXCLUDED.max_discount_amount,
		buy_quantity = EXCLUDED.buy_quantity,
		get_quantity = EXCLUDED.get_quantity,
		updated_at = now()`
)

var (
	_ promotion.Repository    = (*PromotionRepository)(nil)
	_ promotion.CustomerUsage = (*PromotionRepository)(nil)
)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
// Rows that fail normalization are logged and skipped.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given
// pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// ListActive returns every well-formed promotion with status active.
func (r *PromotionRepository) ListActive(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}

	promotions, skipped := promotion.NormalizeAll(records)
	if len(skipped) > 0 {
		lg := zctx.From(ctx)
		for _, err := range skipped {
			lg.Warn("Skipping malformed promotion", zap.Error(err))
		}
	}
	return promotions, nil
}

// FindByCode returns the active promo_code promotion with exactly code, or
// nil when there is none.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	p, err := r.findOne(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}
	return p, nil
}

// FindByID returns the promotion with id regardless of status, or nil when
// it is unknown.
func (r *PromotionRepository) FindByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	p, err := r.findOne(ctx, getPromotionByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding promotion %q: %w", id, err)
	}
	return p, nil
}

func (r *PromotionRepository) findOne(ctx context.Context, query string, arg string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	p, err := promotion.Normalize(rec)
	if err != nil {
		zctx.From(ctx).Warn("Skipping malformed promotion", zap.Error(err))
		return nil, nil
	}
	return &p, nil
}

// RecordUsage appends a usage entry and increments the usage counter in one
// transaction. The increment is guarded by the usage limit, so concurrent
// redemptions can never push the counter past it.
func (r *PromotionRepository) RecordUsage(ctx context.Context, u promotion.Usage) error {
	id := uuid.New()
	if u.ID != "" {
		parsed, err := uuid.Parse(u.ID)
		if err != nil {
			return fmt.Errorf("parsing usage id %q: %w", u.ID, err)
		}
		id = parsed
	}
	usedAt := u.UsedAt
	if usedAt.IsZero() {
		usedAt = time.Now()
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, incrementUsageSQL, u.PromotionID)
		if err != nil {
			return fmt.Errorf("incrementing usage of promotion %q: %w", u.PromotionID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, promotionExistsSQL, u.PromotionID).Scan(&exists); err != nil {
				return fmt.Errorf("checking promotion %q: %w", u.PromotionID, err)
			}
			if !exists {
				return fmt.Errorf("recording usage of %q: %w", u.PromotionID, promotion.ErrNotFound)
			}
			return fmt.Errorf("recording usage of %q: %w", u.PromotionID, promotion.ErrUsageLimitReached)
		}

		if _, err := tx.Exec(ctx, insertUsageSQL,
			id, u.PromotionID, u.OrderID, u.CustomerID, u.DiscountAmount, usedAt,
		); err != nil {
			return fmt.Errorf("inserting usage of promotion %q: %w", u.PromotionID, err)
		}
		return nil
	})
}

// CountCustomerUsage returns how many times customerID redeemed promotionID.
func (r *PromotionRepository) CountCustomerUsage(ctx context.Context, promotionID, customerID string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countCustomerUsageSQL, promotionID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of %q by %q: %w", promotionID, customerID, err)
	}
	return int(n), nil
}

// Upsert inserts rec or replaces the stored definition with the same id. The
// usage counter of an existing promotion is kept.
func (r *PromotionRepository) Upsert(ctx context.Context, rec promotion.Record) error {
	days := make([]int32, len(rec.DaysOfWeek))
	for i, d := range rec.DaysOfWeek {
		days[i] = int32(d)
	}

	_, err := r.pool.Exec(ctx, upsertPromotionSQL,
		rec.ID, rec.Name, rec.Kind, rec.Status, int32(rec.Priority), rec.Code, rec.VisualRef,
		rec.MinOrderAmount, rec.MaxOrderAmount, int32(rec.MinItems), int32(rec.MaxItems),
		orEmpty(rec.OrderTypes), orEmpty(rec.ProductIDs), orEmpty(rec.CategoryIDs), days, rec.TimeStart, rec.TimeEnd,
		rec.StartDate, rec.EndDate, int32(rec.UsageLimit), int32(rec.PerCustomerLimit), rec.FirstOrderOnly, rec.Rule,
		rec.DiscountType, rec.DiscountValue, rec.DiscountScope, orEmpty(rec.DiscountProductIDs), orEmpty(rec.DiscountCategoryIDs),
		rec.MaxDiscountAmount, int32(rec.BuyQuantity), int32(rec.GetQuantity),
	)
	if err != nil {
		return fmt.Errorf("upserting promotion %q: %w", rec.ID, err)
	}
	return nil
}

func scanRecord(row pgx.CollectableRow) (promotion.Record, error) {
	var (
		rec              promotion.Record
		priority         int32
		usageCount       int32
		minItems         int32
		maxItems         int32
		days             []int32
		usageLimit       int32
		perCustomerLimit int32
		buyQuantity      int32
		getQuantity      int32
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Kind, &rec.Status, &priority, &rec.Code, &rec.VisualRef, &usageCount,
		&rec.MinOrderAmount, &rec.MaxOrderAmount, &minItems, &maxItems,
		&rec.OrderTypes, &rec.ProductIDs, &rec.CategoryIDs, &days, &rec.TimeStart, &rec.TimeEnd,
		&rec.StartDate, &rec.EndDate, &usageLimit, &perCustomerLimit, &rec.FirstOrderOnly, &rec.Rule,
		&rec.DiscountType, &rec.DiscountValue, &rec.DiscountScope, &rec.DiscountProductIDs, &rec.DiscountCategoryIDs,
		&rec.MaxDiscountAmount, &buyQuantity, &getQuantity,
	)
	rec.Priority = int(priority)
	rec.UsageCount = int(usageCount)
	rec.MinItems = int(minItems)
	rec.MaxItems = int(maxItems)
	for _, d := range days {
		rec.DaysOfWeek = append(rec.DaysOfWeek, int(d))
	}
	rec.UsageLimit = int(usageLimit)
	rec.PerCustomerLimit = int(perCustomerLimit)
	rec.BuyQuantity = int(buyQuantity)
	rec.GetQuantity = int(getQuantity)
	return rec, err
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
