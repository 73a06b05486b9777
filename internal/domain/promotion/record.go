package promotion

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-promotions/internal/rule"
)

// DiscountType is the loose payout discriminator used by stored records.
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

const clockLayout = "15:04"

// Record is the flat, storage-shaped form of a promotion. Storage adapters
// and importers produce Records; Normalize turns them into Promotions.
type Record struct {
	ID         string
	Name       string
	Kind       string
	Status     string
	Priority   int
	Code       string
	VisualRef  string
	UsageCount int

	MinOrderAmount   int64
	MaxOrderAmount   int64
	MinItems         int
	MaxItems         int
	OrderTypes       []string
	ProductIDs       []string
	CategoryIDs      []string
	DaysOfWeek       []int
	TimeStart        string
	TimeEnd          string
	StartDate        *time.Time
	EndDate          *time.Time
	UsageLimit       int
	PerCustomerLimit int
	FirstOrderOnly   bool
	Rule             string

	DiscountType        string
	DiscountValue       decimal.Decimal
	DiscountScope       string
	DiscountProductIDs  []string
	DiscountCategoryIDs []string
	MaxDiscountAmount   int64
	BuyQuantity         int
	GetQuantity         int
}

func malformed(id, format string, args ...any) error {
	return errors.Wrapf(ErrMalformed, "promotion %q: %s", id, fmt.Sprintf(format, args...))
}

// Normalize validates r and converts it into a Promotion. Every error wraps
// ErrMalformed.
func Normalize(r Record) (Promotion, error) {
	p := Promotion{
		ID:         r.ID,
		Name:       r.Name,
		Kind:       Kind(r.Kind),
		Status:     Status(r.Status),
		Priority:   r.Priority,
		Code:       r.Code,
		VisualRef:  r.VisualRef,
		UsageCount: r.UsageCount,
	}
	if p.ID == "" {
		return Promotion{}, malformed(r.Name, "missing id")
	}
	if !p.Kind.Valid() {
		return Promotion{}, malformed(r.ID, "unknown kind %q", r.Kind)
	}
	if !p.Status.Valid() {
		return Promotion{}, malformed(r.ID, "unknown status %q", r.Status)
	}
	if p.Kind == KindPromoCode && p.Code == "" {
		return Promotion{}, malformed(r.ID, "promo_code without code")
	}

	cond, err := normalizeConditions(r)
	if err != nil {
		return Promotion{}, err
	}
	p.Conditions = cond

	d, err := normalizeDiscount(r, p.Kind)
	if err != nil {
		return Promotion{}, err
	}
	p.Discount = d

	return p, nil
}

// NormalizeAll converts records, skipping malformed ones. The returned errors
// describe every skipped record.
func NormalizeAll(records []Record) ([]Promotion, []error) {
	var (
		out     = make([]Promotion, 0, len(records))
		skipped []error
	)
	for _, r := range records {
		p, err := Normalize(r)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		out = append(out, p)
	}
	return out, skipped
}

func normalizeConditions(r Record) (Conditions, error) {
	c := Conditions{
		MinOrderAmount:   r.MinOrderAmount,
		MaxOrderAmount:   r.MaxOrderAmount,
		MinItems:         r.MinItems,
		MaxItems:         r.MaxItems,
		ProductIDs:       compact(r.ProductIDs),
		CategoryIDs:      compact(r.CategoryIDs),
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		UsageLimit:       r.UsageLimit,
		PerCustomerLimit: r.PerCustomerLimit,
		FirstOrderOnly:   r.FirstOrderOnly,
	}
	if c.MinOrderAmount < 0 || c.MaxOrderAmount < 0 || c.MinItems < 0 || c.MaxItems < 0 {
		return Conditions{}, malformed(r.ID, "negative condition bound")
	}
	if c.UsageLimit < 0 || c.PerCustomerLimit < 0 {
		return Conditions{}, malformed(r.ID, "negative usage limit")
	}

	for _, ot := range r.OrderTypes {
		t := OrderType(ot)
		if t != OrderTypeDelivery && t != OrderTypePickup {
			return Conditions{}, malformed(r.ID, "unknown order type %q", ot)
		}
		if !slices.Contains(c.OrderTypes, t) {
			c.OrderTypes = append(c.OrderTypes, t)
		}
	}

	for _, d := range r.DaysOfWeek {
		if d < int(time.Sunday) || d > int(time.Saturday) {
			return Conditions{}, malformed(r.ID, "day of week %d out of range", d)
		}
		if wd := time.Weekday(d); !slices.Contains(c.DaysOfWeek, wd) {
			c.DaysOfWeek = append(c.DaysOfWeek, wd)
		}
	}

	if r.TimeStart != "" || r.TimeEnd != "" {
		start, err := parseClock(r.TimeStart)
		if err != nil {
			return Conditions{}, malformed(r.ID, "time range start %q", r.TimeStart)
		}
		end, err := parseClock(r.TimeEnd)
		if err != nil {
			return Conditions{}, malformed(r.ID, "time range end %q", r.TimeEnd)
		}
		c.TimeRange = &TimeRange{Start: start, End: end}
	}

	if r.Rule != "" {
		prg, err := rule.Compile(r.Rule)
		if err != nil {
			return Conditions{}, malformed(r.ID, "rule: %v", err)
		}
		c.Rule = prg
	}

	return c, nil
}

func normalizeDiscount(r Record, kind Kind) (Discount, error) {
	if r.DiscountValue.IsNegative() {
		return nil, malformed(r.ID, "negative discount value")
	}
	if r.MaxDiscountAmount < 0 {
		return nil, malformed(r.ID, "negative max discount amount")
	}

	switch kind {
	case KindPercentage:
		if r.DiscountType != "" && DiscountType(r.DiscountType) != DiscountTypePercentage {
			return nil, malformed(r.ID, "percentage promotion with %q payout", r.DiscountType)
		}
		return percentagePayout(r)
	case KindFixedAmount:
		if r.DiscountType != "" && DiscountType(r.DiscountType) != DiscountTypeFixedAmount {
			return nil, malformed(r.ID, "fixed_amount promotion with %q payout", r.DiscountType)
		}
		return fixedPayout(r)
	case KindPromoCode, KindThreshold, KindHappyHour:
		switch DiscountType(r.DiscountType) {
		case DiscountTypePercentage:
			return percentagePayout(r)
		case DiscountTypeFixedAmount:
			return fixedPayout(r)
		default:
			return NoDiscount{}, nil
		}
	case KindBuyXGetY:
		ids := compact(r.DiscountProductIDs)
		if len(ids) == 0 {
			return nil, malformed(r.ID, "buy_x_get_y without products")
		}
		if r.BuyQuantity < 1 || r.GetQuantity < 1 {
			return nil, malformed(r.ID, "buy_x_get_y quantities must be at least 1")
		}
		return BuyXGetYDiscount{ProductIDs: ids, BuyQuantity: r.BuyQuantity, GetQuantity: r.GetQuantity}, nil
	case KindFreeShipping:
		return FreeShippingDiscount{}, nil
	default:
		return NoDiscount{}, nil
	}
}

func percentagePayout(r Record) (Discount, error) {
	scope := Scope(r.DiscountScope)
	switch scope {
	case "":
		scope = ScopeTotal
	case ScopeTotal, ScopeProducts, ScopeCategories, ScopeShipping:
	default:
		return nil, malformed(r.ID, "unknown scope %q", r.DiscountScope)
	}
	return PercentageDiscount{
		Percent:     r.DiscountValue,
		Scope:       scope,
		ProductIDs:  compact(r.DiscountProductIDs),
		CategoryIDs: compact(r.DiscountCategoryIDs),
		MaxAmount:   r.MaxDiscountAmount,
	}, nil
}

func fixedPayout(r Record) (Discount, error) {
	if !r.DiscountValue.Equal(r.DiscountValue.Truncate(0)) {
		return nil, malformed(r.ID, "fixed amount %s is not in whole currency units", r.DiscountValue)
	}
	return FixedAmountDiscount{Amount: r.DiscountValue.IntPart()}, nil
}

// ToRecord is the inverse of Normalize.
func ToRecord(p Promotion) Record {
	c := p.Conditions
	r := Record{
		ID:               p.ID,
		Name:             p.Name,
		Kind:             string(p.Kind),
		Status:           string(p.Status),
		Priority:         p.Priority,
		Code:             p.Code,
		VisualRef:        p.VisualRef,
		UsageCount:       p.UsageCount,
		MinOrderAmount:   c.MinOrderAmount,
		MaxOrderAmount:   c.MaxOrderAmount,
		MinItems:         c.MinItems,
		MaxItems:         c.MaxItems,
		ProductIDs:       c.ProductIDs,
		CategoryIDs:      c.CategoryIDs,
		StartDate:        c.StartDate,
		EndDate:          c.EndDate,
		UsageLimit:       c.UsageLimit,
		PerCustomerLimit: c.PerCustomerLimit,
		FirstOrderOnly:   c.FirstOrderOnly,
		Rule:             c.Rule.Source(),
	}
	for _, ot := range c.OrderTypes {
		r.OrderTypes = append(r.OrderTypes, string(ot))
	}
	for _, d := range c.DaysOfWeek {
		r.DaysOfWeek = append(r.DaysOfWeek, int(d))
	}
	if c.TimeRange != nil {
		r.TimeStart = formatClock(c.TimeRange.Start)
		r.TimeEnd = formatClock(c.TimeRange.End)
	}

	switch d := p.Discount.(type) {
	case PercentageDiscount:
		r.DiscountType = string(DiscountTypePercentage)
		r.DiscountValue = d.Percent
		r.DiscountScope = string(d.Scope)
		r.DiscountProductIDs = d.ProductIDs
		r.DiscountCategoryIDs = d.CategoryIDs
		r.MaxDiscountAmount = d.MaxAmount
	case FixedAmountDiscount:
		r.DiscountType = string(DiscountTypeFixedAmount)
		r.DiscountValue = decimal.NewFromInt(d.Amount)
	case BuyXGetYDiscount:
		r.DiscountProductIDs = d.ProductIDs
		r.BuyQuantity = d.BuyQuantity
		r.GetQuantity = d.GetQuantity
	}
	return r
}

func parseClock(s string) (int, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, err
	}
	return minuteOfDay(t), nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// compact drops empty and duplicate ids, keeping first occurrence order.
func compact(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
