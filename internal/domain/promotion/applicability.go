package promotion

import (
	"slices"
	"time"

	"github.com/xenking/oolio-promotions/internal/rule"
)

// IsApplicableToOrder reports whether p may apply to o at now. Amount
// conditions are checked against the pre-discount subtotal so the result does
// not depend on which promotions were applied before.
func IsApplicableToOrder(p Promotion, o Order, now time.Time) bool {
	if !IsCurrentlyValid(p, now) || !IsValidAtTime(p, now) {
		return false
	}

	c := p.Conditions
	subtotal := o.Subtotal
	if subtotal == 0 {
		subtotal = o.ItemsSubtotal()
	}
	count := o.ItemCount()

	switch {
	case c.MinOrderAmount > 0 && subtotal < c.MinOrderAmount:
		return false
	case c.MaxOrderAmount > 0 && subtotal > c.MaxOrderAmount:
		return false
	case c.MinItems > 0 && count < c.MinItems:
		return false
	case c.MaxItems > 0 && count > c.MaxItems:
		return false
	case len(c.OrderTypes) > 0 && !slices.Contains(c.OrderTypes, o.OrderType):
		return false
	case len(c.ProductIDs) > 0 && !anyItem(o.Items, func(it Item) bool { return slices.Contains(c.ProductIDs, it.ProductID) }):
		return false
	case len(c.CategoryIDs) > 0 && !anyItem(o.Items, func(it Item) bool { return slices.Contains(c.CategoryIDs, it.CategoryID) }):
		return false
	}

	if c.Rule != nil && !c.Rule.Matches(factsOf(o, subtotal, count)) {
		return false
	}

	if p.Kind == KindBuyXGetY {
		bxgy, ok := p.Discount.(BuyXGetYDiscount)
		if !ok || quantityOf(o.Items, bxgy.ProductIDs) < 2 {
			return false
		}
	}

	return true
}

func anyItem(items []Item, match func(Item) bool) bool {
	return slices.ContainsFunc(items, match)
}

// quantityOf sums the quantity of lines whose product is in ids.
func quantityOf(items []Item, ids []string) int {
	total := 0
	for _, it := range items {
		if slices.Contains(ids, it.ProductID) {
			total += it.Quantity
		}
	}
	return total
}

func factsOf(o Order, subtotal int64, count int) rule.Facts {
	f := rule.Facts{
		Subtotal:  subtotal,
		Items:     int64(count),
		OrderType: string(o.OrderType),
		Customer:  o.CustomerID,
	}
	for _, it := range o.Items {
		if !slices.Contains(f.Products, it.ProductID) {
			f.Products = append(f.Products, it.ProductID)
		}
		if it.CategoryID != "" && !slices.Contains(f.Categories, it.CategoryID) {
			f.Categories = append(f.Categories, it.CategoryID)
		}
	}
	return f
}
