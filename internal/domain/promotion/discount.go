package promotion

import "github.com/shopspring/decimal"

// Scope selects the base amount a percentage discount is computed against.
type Scope string

const (
	// ScopeTotal uses the order total as left by previously applied promotions.
	ScopeTotal Scope = "total"
	// ScopeProducts uses the lines whose product is listed.
	ScopeProducts Scope = "products"
	// ScopeCategories uses the lines whose category is listed.
	ScopeCategories Scope = "categories"
	// ScopeShipping uses the shipping cost.
	ScopeShipping Scope = "shipping"
)

// Discount is the payout of a promotion. The set of implementations is
// closed: PercentageDiscount, FixedAmountDiscount, BuyXGetYDiscount,
// FreeShippingDiscount and NoDiscount.
type Discount interface {
	discount()
}

// PercentageDiscount takes Percent of the scoped base amount, optionally
// capped at MaxAmount.
type PercentageDiscount struct {
	Percent     decimal.Decimal
	Scope       Scope
	ProductIDs  []string
	CategoryIDs []string
	// MaxAmount caps the discount when positive.
	MaxAmount int64
}

// FixedAmountDiscount takes Amount off the order.
type FixedAmountDiscount struct {
	Amount int64
}

// BuyXGetYDiscount gives GetQuantity units free for every BuyQuantity units
// bought of each listed product.
type BuyXGetYDiscount struct {
	ProductIDs  []string
	BuyQuantity int
	GetQuantity int
}

// FreeShippingDiscount waives the order's shipping cost.
type FreeShippingDiscount struct{}

// NoDiscount is the payout of kinds without a calculation.
type NoDiscount struct{}

func (PercentageDiscount) discount()   {}
func (FixedAmountDiscount) discount()  {}
func (BuyXGetYDiscount) discount()     {}
func (FreeShippingDiscount) discount() {}
func (NoDiscount) discount()           {}
