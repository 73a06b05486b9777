// Package events publishes promotion redemption events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// TopicRedeemed is the default topic for redemption events.
const TopicRedeemed = "promotion.redeemed"

const eventTypeRedeemed = "promotion.redeemed"

// Publisher publishes redemption events.
type Publisher interface {
	PublishRedeemed(ctx context.Context, u promotion.Usage) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes one message per redemption, keyed by promotion id so
// a promotion's events stay ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// PublishRedeemed encodes u and writes it synchronously. The trace context of
// ctx travels in message headers.
func (p *KafkaPublisher) PublishRedeemed(ctx context.Context, u promotion.Usage) error {
	msg := kafka.Message{
		Key:   []byte(u.PromotionID),
		Value: EncodeRedeemed(u),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventTypeRedeemed)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish redemption of %q", u.PromotionID)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

// PublishRedeemed implements Publisher.
func (Nop) PublishRedeemed(context.Context, promotion.Usage) error { return nil }

// EncodeRedeemed returns the JSON payload of a redemption event.
func EncodeRedeemed(u promotion.Usage) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(eventTypeRedeemed)
	e.FieldStart("usage_id")
	e.Str(u.ID)
	e.FieldStart("promotion_id")
	e.Str(u.PromotionID)
	e.FieldStart("order_id")
	e.Str(u.OrderID)
	if u.CustomerID != "" {
		e.FieldStart("customer_id")
		e.Str(u.CustomerID)
	}
	e.FieldStart("discount_amount")
	e.Int64(u.DiscountAmount)
	e.FieldStart("used_at")
	e.Str(u.UsedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

// DecodeRedeemed parses a payload produced by EncodeRedeemed.
func DecodeRedeemed(data []byte) (promotion.Usage, error) {
	var u promotion.Usage
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "usage_id":
			u.ID, err = d.Str()
		case "promotion_id":
			u.PromotionID, err = d.Str()
		case "order_id":
			u.OrderID, err = d.Str()
		case "customer_id":
			u.CustomerID, err = d.Str()
		case "discount_amount":
			u.DiscountAmount, err = d.Int64()
		case "used_at":
			var s string
			if s, err = d.Str(); err == nil {
				u.UsedAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return promotion.Usage{}, errors.Wrap(err, "decode redemption event")
	}
	return u, nil
}

// headerCarrier adapts kafka headers to the otel propagation API.
type headerCarrier struct {
	headers *[]kafka.Header
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
