package promotion

// OrderType distinguishes how the order is fulfilled.
type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
)

// Item is a priced order line. Prices are in the smallest currency unit.
type Item struct {
	ProductID  string
	CategoryID string
	UnitPrice  int64
	Quantity   int
}

// Order is the snapshot the engine evaluates. Subtotal, Total,
// AppliedPromotions and TotalDiscount are filled by the engine.
type Order struct {
	Items        []Item
	Subtotal     int64
	Total        int64
	ShippingCost int64
	OrderType    OrderType
	PromoCode    string
	CustomerID   string

	AppliedPromotions []AppliedPromotion
	TotalDiscount     int64
}

// AppliedPromotion is one entry of the audit trail.
type AppliedPromotion struct {
	PromotionID    string
	Name           string
	DiscountAmount int64
	Kind           Kind
	VisualRef      string
}

// ItemsSubtotal returns the sum of unit price times quantity over all items.
func (o Order) ItemsSubtotal() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

// ItemCount returns the total quantity across all items.
func (o Order) ItemCount() int {
	total := 0
	for _, it := range o.Items {
		total += it.Quantity
	}
	return total
}

// FreeShipping reports whether a free_shipping promotion was applied, which
// is the caller's signal to waive the shipping charge.
func (o Order) FreeShipping() bool {
	for _, ap := range o.AppliedPromotions {
		if ap.Kind == KindFreeShipping {
			return true
		}
	}
	return false
}

// ChargedShipping returns the shipping cost after the free-shipping waiver.
func (o Order) ChargedShipping() int64 {
	if o.FreeShipping() {
		return 0
	}
	return o.ShippingCost
}

// GrandTotal is the item total plus charged shipping.
func (o Order) GrandTotal() int64 {
	return o.Total + o.ChargedShipping()
}

func (o Order) clone() Order {
	c := o
	c.Items = append([]Item(nil), o.Items...)
	c.AppliedPromotions = append([]AppliedPromotion(nil), o.AppliedPromotions...)
	return c
}
