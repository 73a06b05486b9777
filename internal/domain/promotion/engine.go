package promotion

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Engine applies the active promotion catalog to order snapshots.
//
// An Engine holds no per-order state and may be shared between goroutines.
type Engine struct {
	repo      Repository
	customers CustomerUsage
	now       func() time.Time
	loc       *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone day-of-week and time-of-day windows are
// evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithCustomerUsage enables per-customer usage limits for orders that carry a
// customer id.
func WithCustomerUsage(c CustomerUsage) Option {
	return func(e *Engine) { e.customers = c }
}

// NewEngine creates an Engine reading promotions from repo.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo: repo,
		now:  time.Now,
		loc:  time.Local,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().In(e.loc)
}

// IsPromotionApplicableToOrder is IsApplicableToOrder at the engine's
// current time.
func (e *Engine) IsPromotionApplicableToOrder(p Promotion, o Order) bool {
	return IsApplicableToOrder(p, o, e.clock())
}

// CalculatePromotionDiscount is CalculateDiscount.
func (e *Engine) CalculatePromotionDiscount(p Promotion, o Order) int64 {
	return CalculateDiscount(p, o)
}

// tally accumulates the result of applying promotions. Values are never
// modified in place; every step returns a new tally.
type tally struct {
	running  int64
	discount int64
	applied  []AppliedPromotion
}

// take subtracts amount, capped at the running total, and records it.
// Zero amounts are not recorded.
func (t tally) take(p Promotion, amount int64) tally {
	amount = min(amount, t.running)
	if amount <= 0 {
		return t
	}
	return tally{
		running:  t.running - amount,
		discount: t.discount + amount,
		applied:  append(slices.Clip(t.applied), entryFor(p, amount)),
	}
}

// note records amount without touching the item total.
func (t tally) note(p Promotion, amount int64) tally {
	t.applied = append(slices.Clip(t.applied), entryFor(p, amount))
	return t
}

func entryFor(p Promotion, amount int64) AppliedPromotion {
	return AppliedPromotion{
		PromotionID:    p.ID,
		Name:           p.Name,
		DiscountAmount: amount,
		Kind:           p.Kind,
		VisualRef:      p.VisualRef,
	}
}

// ApplyPromotionsToOrder evaluates the active promotions against o and
// returns a new Order with Subtotal, Total, AppliedPromotions and
// TotalDiscount filled. The input is not modified.
//
// Stages run in a fixed order: buy_x_get_y, the order's promo code, the
// percentage/fixed/threshold/happy_hour pool, then free shipping. Each
// discount is computed against the total left by the previous ones. When the
// repository cannot be read the order is returned without promotions.
func (e *Engine) ApplyPromotionsToOrder(ctx context.Context, o Order) Order {
	lg := zctx.From(ctx)

	out := o.clone()
	out.Subtotal = out.ItemsSubtotal()
	out.Total = out.Subtotal
	out.AppliedPromotions = nil
	out.TotalDiscount = 0

	active, err := e.repo.ListActive(ctx)
	if err != nil {
		lg.Warn("List active promotions failed, applying none", zap.Error(err))
		return out
	}

	now := e.clock()
	acc := tally{running: out.Subtotal}

	acc = e.applyEach(ctx, out, acc, now, candidates(active, KindBuyXGetY))
	acc = e.applyPromoCode(ctx, out, acc, now)
	acc = e.applyEach(ctx, out, acc, now, candidates(active, KindPercentage, KindFixedAmount, KindThreshold, KindHappyHour))
	acc = e.applyFreeShipping(ctx, out, acc, now, candidates(active, KindFreeShipping))

	out.AppliedPromotions = acc.applied
	out.TotalDiscount = acc.discount
	out.Total = out.Subtotal - acc.discount

	if len(out.AppliedPromotions) > 0 {
		lg.Debug("Promotions applied",
			zap.Int("count", len(out.AppliedPromotions)),
			zap.Int64("subtotal", out.Subtotal),
			zap.Int64("discount", out.TotalDiscount),
		)
	}
	return out
}

// candidates selects promotions of the given kinds, highest priority first.
// Equal priorities are ordered by id so runs are reproducible.
func candidates(all []Promotion, kinds ...Kind) []Promotion {
	var out []Promotion
	for _, p := range all {
		if slices.Contains(kinds, p.Kind) {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b Promotion) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (e *Engine) applyEach(ctx context.Context, base Order, acc tally, now time.Time, ps []Promotion) tally {
	for _, p := range ps {
		acc = e.applyOne(ctx, base, acc, now, p)
	}
	return acc
}

func (e *Engine) applyOne(ctx context.Context, base Order, acc tally, now time.Time, p Promotion) tally {
	view := base
	view.Total = acc.running
	if !e.applicable(ctx, p, view, now) {
		return acc
	}
	return acc.take(p, CalculateDiscount(p, view))
}

func (e *Engine) applyPromoCode(ctx context.Context, base Order, acc tally, now time.Time) tally {
	if base.PromoCode == "" {
		return acc
	}
	lg := zctx.From(ctx)

	p, err := e.repo.FindByCode(ctx, base.PromoCode)
	if err != nil {
		lg.Warn("Promo code lookup failed", zap.String("code", base.PromoCode), zap.Error(err))
		return acc
	}
	if p == nil || p.Kind != KindPromoCode {
		lg.Debug("Promo code not found", zap.String("code", base.PromoCode))
		return acc
	}
	return e.applyOne(ctx, base, acc, now, *p)
}

// applyFreeShipping records the first applicable free_shipping promotion. Its
// amount is informational; callers waive the shipping charge.
func (e *Engine) applyFreeShipping(ctx context.Context, base Order, acc tally, now time.Time, ps []Promotion) tally {
	view := base
	view.Total = acc.running
	for _, p := range ps {
		if e.applicable(ctx, p, view, now) {
			return acc.note(p, CalculateDiscount(p, view))
		}
	}
	return acc
}

func (e *Engine) applicable(ctx context.Context, p Promotion, o Order, now time.Time) bool {
	if !IsApplicableToOrder(p, o, now) {
		return false
	}
	return e.withinCustomerLimit(ctx, p, o)
}

// withinCustomerLimit treats a failed lookup as "limit reached".
func (e *Engine) withinCustomerLimit(ctx context.Context, p Promotion, o Order) bool {
	limit := p.Conditions.PerCustomerLimit
	if limit <= 0 || o.CustomerID == "" || e.customers == nil {
		return true
	}
	used, err := e.customers.CountCustomerUsage(ctx, p.ID, o.CustomerID)
	if err != nil {
		zctx.From(ctx).Warn("Count customer usage failed",
			zap.String("promotion_id", p.ID),
			zap.Error(err),
		)
		return false
	}
	return used < limit
}
