package order

import (
	"context"
	"time"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// Order is a committed order with its priced promotions.
type Order struct {
	ID                string
	CustomerID        string
	OrderType         promotion.OrderType
	PromoCode         string
	Items             []promotion.Item
	AppliedPromotions []promotion.AppliedPromotion
	Subtotal          int64
	TotalDiscount     int64
	Total             int64
	ShippingCost      int64
	// GrandTotal is Total plus shipping, with shipping waived when a
	// free_shipping promotion applied.
	GrandTotal int64
	CreatedAt  time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}
