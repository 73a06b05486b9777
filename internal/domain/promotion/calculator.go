package promotion

import (
	"slices"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// calculator computes the raw discount of a promotion against an order. It
// must not mutate the order and must return a non-negative amount.
type calculator func(p Promotion, o Order) int64

// calculators maps every Kind to its calculation. A test keeps it exhaustive.
var calculators = map[Kind]calculator{
	KindPercentage:   calcPayout,
	KindFixedAmount:  calcPayout,
	KindPromoCode:    calcPayout,
	KindThreshold:    calcPayout,
	KindHappyHour:    calcPayout,
	KindBuyXGetY:     calcBuyXGetY,
	KindFreeShipping: calcFreeShipping,
	KindFreeProduct:  calcNothing,
	KindCombo:        calcNothing,
}

// CalculateDiscount returns the discount p grants on o. Item-level discounts
// never exceed o.Total; free_shipping returns the shipping cost, which is
// settled outside the item total. An order with neither Subtotal nor Total
// set is priced from its items first.
func CalculateDiscount(p Promotion, o Order) int64 {
	calc, ok := calculators[p.Kind]
	if !ok {
		return 0
	}
	if o.Total == 0 && o.Subtotal == 0 {
		o.Total = o.ItemsSubtotal()
	}
	amount := max(calc(p, o), 0)
	if p.Kind == KindFreeShipping {
		return amount
	}
	return min(amount, max(o.Total, 0))
}

// calcPayout dispatches on the payout variant. Kinds whose behaviour lives in
// their conditions (promo codes, thresholds, happy hours) share it with the
// plain percentage and fixed kinds.
func calcPayout(p Promotion, o Order) int64 {
	switch d := p.Discount.(type) {
	case PercentageDiscount:
		return percentageOf(d, o)
	case FixedAmountDiscount:
		return d.Amount
	default:
		return 0
	}
}

// percentageOf rounds half up to the nearest currency unit, then applies the
// cap.
func percentageOf(d PercentageDiscount, o Order) int64 {
	base := scopedBase(d, o)
	if base <= 0 || !d.Percent.IsPositive() {
		return 0
	}
	amount := decimal.NewFromInt(base).Mul(d.Percent).Div(hundred).Round(0).IntPart()
	if d.MaxAmount > 0 {
		amount = min(amount, d.MaxAmount)
	}
	return min(amount, base)
}

func scopedBase(d PercentageDiscount, o Order) int64 {
	switch d.Scope {
	case ScopeProducts:
		return sumLines(o.Items, func(it Item) bool { return slices.Contains(d.ProductIDs, it.ProductID) })
	case ScopeCategories:
		return sumLines(o.Items, func(it Item) bool { return slices.Contains(d.CategoryIDs, it.CategoryID) })
	case ScopeShipping:
		return o.ShippingCost
	default:
		return o.Total
	}
}

func sumLines(items []Item, match func(Item) bool) int64 {
	var sum int64
	for _, it := range items {
		if match(it) {
			sum += it.UnitPrice * int64(it.Quantity)
		}
	}
	return sum
}

// calcBuyXGetY prices free units at the cheapest unit price present for each
// product.
func calcBuyXGetY(p Promotion, o Order) int64 {
	d, ok := p.Discount.(BuyXGetYDiscount)
	if !ok || d.BuyQuantity < 1 || d.GetQuantity < 1 {
		return 0
	}
	group := int64(d.BuyQuantity + d.GetQuantity)

	var total int64
	for _, id := range d.ProductIDs {
		var (
			qty      int64
			cheapest int64 = -1
		)
		for _, it := range o.Items {
			if it.ProductID != id {
				continue
			}
			qty += int64(it.Quantity)
			if cheapest < 0 || it.UnitPrice < cheapest {
				cheapest = it.UnitPrice
			}
		}
		if qty < group {
			continue
		}
		total += (qty / group) * int64(d.GetQuantity) * cheapest
	}
	return total
}

func calcFreeShipping(_ Promotion, o Order) int64 {
	return o.ShippingCost
}

func calcNothing(Promotion, Order) int64 {
	return 0
}
