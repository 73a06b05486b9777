package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-promotions/internal/rule"
)

// Kind enumerates the supported promotion mechanics.
type Kind string

const (
	// KindPercentage takes a percentage off a scoped base amount.
	KindPercentage Kind = "percentage"
	// KindFixedAmount takes a fixed monetary amount off the order.
	KindFixedAmount Kind = "fixed_amount"
	// KindPromoCode delivers a percentage or fixed discount behind a code.
	KindPromoCode Kind = "promo_code"
	// KindBuyXGetY gives away units of configured products.
	KindBuyXGetY Kind = "buy_x_get_y"
	// KindFreeProduct is declared but carries no calculation.
	KindFreeProduct Kind = "free_product"
	// KindFreeShipping waives the shipping charge.
	KindFreeShipping Kind = "free_shipping"
	// KindCombo is declared but carries no calculation.
	KindCombo Kind = "combo"
	// KindThreshold is a percentage or fixed payout gated on order amounts.
	KindThreshold Kind = "threshold"
	// KindHappyHour is a percentage or fixed payout gated on time of day.
	KindHappyHour Kind = "happy_hour"
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	KindPercentage,
	KindFixedAmount,
	KindPromoCode,
	KindBuyXGetY,
	KindFreeProduct,
	KindFreeShipping,
	KindCombo,
	KindThreshold,
	KindHappyHour,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a promotion.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusScheduled Status = "scheduled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusScheduled, StatusExpired:
		return true
	default:
		return false
	}
}

var (
	// ErrMalformed is returned when a stored promotion violates its kind's
	// invariants. Such promotions are never applied.
	ErrMalformed = errors.New("malformed promotion")
	// ErrUsageLimitReached is returned by RecordUsage when the global usage
	// limit is already exhausted.
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
	// ErrNotFound is returned by RecordUsage for an unknown promotion.
	ErrNotFound = errors.New("promotion not found")
)

// Promotion is a normalized promotion definition. Values are treated as
// immutable for the duration of an evaluation.
type Promotion struct {
	ID         string
	Name       string
	Kind       Kind
	Status     Status
	Priority   int
	Code       string
	VisualRef  string
	UsageCount int
	Conditions Conditions
	Discount   Discount
}

// Conditions gate whether a promotion applies. Zero values mean "no
// condition".
type Conditions struct {
	MinOrderAmount   int64
	MaxOrderAmount   int64
	MinItems         int
	MaxItems         int
	OrderTypes       []OrderType
	ProductIDs       []string
	CategoryIDs      []string
	DaysOfWeek       []time.Weekday
	TimeRange        *TimeRange
	StartDate        *time.Time
	EndDate          *time.Time
	UsageLimit       int
	PerCustomerLimit int
	// FirstOrderOnly is carried but not enforced: detecting a first order
	// needs order history this package does not have.
	FirstOrderOnly bool
	Rule           *rule.Program
}

// TimeRange is a minute-of-day window, both ends inclusive. When Start is
// after End the window wraps past midnight.
type TimeRange struct {
	Start int
	End   int
}

// Contains reports whether minute falls inside the window.
func (r TimeRange) Contains(minute int) bool {
	if r.Start <= r.End {
		return minute >= r.Start && minute <= r.End
	}
	return minute >= r.Start || minute <= r.End
}

// Usage is a single redemption of a promotion by a committed order.
type Usage struct {
	ID             string
	PromotionID    string
	OrderID        string
	CustomerID     string
	DiscountAmount int64
	UsedAt         time.Time
}

// Repository supplies promotion definitions and records redemptions.
//
// ListActive returns every promotion with status active, in any order.
// FindByCode returns the active promo_code promotion with exactly that code,
// or nil when there is none. FindByID returns nil when the id is unknown.
// RecordUsage appends a usage entry and atomically increments the
// promotion's usage counter.
type Repository interface {
	ListActive(ctx context.Context) ([]Promotion, error)
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	FindByID(ctx context.Context, id string) (*Promotion, error)
	RecordUsage(ctx context.Context, u Usage) error
}

// CustomerUsage counts how many times a customer redeemed a promotion.
type CustomerUsage interface {
	CountCustomerUsage(ctx context.Context, promotionID, customerID string) (int, error)
}
