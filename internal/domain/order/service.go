package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// ErrEmptyItems is returned for a request without items.
var ErrEmptyItems = errors.New("items required")

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidPriceError indicates a line item or the shipping cost is negative,
// or that the order amounts do not fit in int64.
type InvalidPriceError struct {
	ProductID string
	Overflow  bool
}

func (e *InvalidPriceError) Error() string {
	if e.Overflow {
		if e.ProductID == "" {
			return "order total is too large"
		}
		return fmt.Sprintf("order total is too large at product %s", e.ProductID)
	}
	if e.ProductID == "" {
		return "shipping cost must not be negative"
	}
	return fmt.Sprintf("unit price must not be negative for product %s", e.ProductID)
}

// Request is a priced cart submitted for preview or checkout.
type Request struct {
	Items        []promotion.Item
	ShippingCost int64
	OrderType    promotion.OrderType
	PromoCode    string
	CustomerID   string
}

// Engine prices an order snapshot.
type Engine interface {
	ApplyPromotionsToOrder(ctx context.Context, o promotion.Order) promotion.Order
}

// UsageRecorder records redemptions of committed orders.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u promotion.Usage) error
}

// Publisher announces recorded redemptions.
type Publisher interface {
	PublishRedeemed(ctx context.Context, u promotion.Usage) error
}

// Options configures optional Service dependencies.
type Options struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (o *Options) setDefaults() {
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
}

// Service encapsulates order preview and placement.
type Service struct {
	engine    Engine
	orders    Repository
	usages    UsageRecorder
	publisher Publisher
	now       func() time.Time

	tracer     trace.Tracer
	placed     metric.Int64Counter
	redemption metric.Int64Counter
}

// NewService creates an order Service.
func NewService(
	engine Engine,
	orders Repository,
	usages UsageRecorder,
	publisher Publisher,
	opts Options,
) (*Service, error) {
	opts.setDefaults()

	meter := opts.MeterProvider.Meter("promotions/order")
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Number of committed orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	redemption, err := meter.Int64Counter("promotions.redeemed",
		metric.WithDescription("Number of recorded promotion redemptions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}

	return &Service{
		engine:     engine,
		orders:     orders,
		usages:     usages,
		publisher:  publisher,
		now:        time.Now,
		tracer:     opts.TracerProvider.Tracer("promotions/order"),
		placed:     placed,
		redemption: redemption,
	}, nil
}

// Preview prices the request without persisting anything or consuming
// promotion usage.
func (s *Service) Preview(ctx context.Context, req Request) (promotion.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Preview")
	defer span.End()

	if err := validate(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return promotion.Order{}, err
	}

	priced := s.engine.ApplyPromotionsToOrder(ctx, snapshot(req))
	span.SetAttributes(
		attribute.Int("promotions.applied", len(priced.AppliedPromotions)),
		attribute.Int64("order.discount", priced.TotalDiscount),
	)
	return priced, nil
}

// PlaceOrder prices the request, persists the order, then records one usage
// per applied promotion. Usage and event failures are logged; the order is
// already committed at that point.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	if err := validate(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	priced := s.engine.ApplyPromotionsToOrder(ctx, snapshot(req))

	o := &Order{
		ID:                uuid.New().String(),
		CustomerID:        req.CustomerID,
		OrderType:         req.OrderType,
		PromoCode:         req.PromoCode,
		Items:             priced.Items,
		AppliedPromotions: priced.AppliedPromotions,
		Subtotal:          priced.Subtotal,
		TotalDiscount:     priced.TotalDiscount,
		Total:             priced.Total,
		ShippingCost:      priced.ShippingCost,
		GrandTotal:        priced.GrandTotal(),
		CreatedAt:         s.now(),
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	if err := s.orders.Create(ctx, o); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.placed.Add(ctx, 1)

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	lg.Info("Order placed",
		zap.Int64("subtotal", o.Subtotal),
		zap.Int64("discount", o.TotalDiscount),
		zap.Int64("grand_total", o.GrandTotal),
		zap.Int("promotions", len(o.AppliedPromotions)),
	)

	for _, ap := range o.AppliedPromotions {
		s.redeem(ctx, lg, o, ap)
	}

	return o, nil
}

func (s *Service) redeem(ctx context.Context, lg *zap.Logger, o *Order, ap promotion.AppliedPromotion) {
	u := promotion.Usage{
		ID:             uuid.New().String(),
		PromotionID:    ap.PromotionID,
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		DiscountAmount: ap.DiscountAmount,
		UsedAt:         o.CreatedAt,
	}
	lg = lg.With(zap.String("promotion_id", ap.PromotionID))

	if err := s.usages.RecordUsage(ctx, u); err != nil {
		if errors.Is(err, promotion.ErrUsageLimitReached) {
			lg.Warn("Promotion usage limit reached after pricing")
		} else {
			lg.Error("Record promotion usage failed", zap.Error(err))
		}
		return
	}
	s.redemption.Add(ctx, 1, metric.WithAttributes(attribute.String("promotion.kind", string(ap.Kind))))

	if err := s.publisher.PublishRedeemed(ctx, u); err != nil {
		lg.Warn("Publish redemption failed", zap.Error(err))
	}
}

func validate(req Request) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	var subtotal int64
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: it.ProductID}
		}
		if it.UnitPrice < 0 {
			return &InvalidPriceError{ProductID: it.ProductID}
		}
		// Line and running totals must fit in int64.
		if it.UnitPrice > math.MaxInt64/int64(it.Quantity) {
			return &InvalidPriceError{ProductID: it.ProductID, Overflow: true}
		}
		line := it.UnitPrice * int64(it.Quantity)
		if subtotal > math.MaxInt64-line {
			return &InvalidPriceError{ProductID: it.ProductID, Overflow: true}
		}
		subtotal += line
	}
	if req.ShippingCost < 0 {
		return &InvalidPriceError{}
	}
	if subtotal > math.MaxInt64-req.ShippingCost {
		return &InvalidPriceError{Overflow: true}
	}
	return nil
}

func snapshot(req Request) promotion.Order {
	return promotion.Order{
		Items:        req.Items,
		ShippingCost: req.ShippingCost,
		OrderType:    req.OrderType,
		PromoCode:    req.PromoCode,
		CustomerID:   req.CustomerID,
	}
}
