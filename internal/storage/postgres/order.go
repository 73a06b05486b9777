package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-promotions/internal/codec"
	"github.com/xenking/oolio-promotions/internal/domain/order"
)

const createOrderSQL = `INSERT INTO orders (
		id, customer_id, order_type, promo_code, items, applied_promotions,
		subtotal, total_discount, total, shipping_cost, grand_total, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items and the audit trail are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return fmt.Errorf("parsing order id %q: %w", o.ID, err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		id, o.CustomerID, string(o.OrderType), o.PromoCode,
		codec.MarshalItems(o.Items), codec.MarshalApplied(o.AppliedPromotions),
		o.Subtotal, o.TotalDiscount, o.Total, o.ShippingCost, o.GrandTotal, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}
