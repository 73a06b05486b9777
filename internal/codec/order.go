package codec

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// EncodeItem writes an order line.
func EncodeItem(e *jx.Encoder, it promotion.Item) {
	e.ObjStart()
	e.FieldStart("product_id")
	e.Str(it.ProductID)
	if it.CategoryID != "" {
		e.FieldStart("category_id")
		e.Str(it.CategoryID)
	}
	e.FieldStart("unit_price")
	e.Int64(it.UnitPrice)
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	e.ObjEnd()
}

// DecodeItem reads an order line.
func DecodeItem(d *jx.Decoder) (promotion.Item, error) {
	var it promotion.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			it.ProductID, err = d.Str()
		case "category_id":
			it.CategoryID, err = d.Str()
		case "unit_price":
			it.UnitPrice, err = d.Int64()
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return promotion.Item{}, errors.Wrap(err, "decode item")
	}
	return it, nil
}

// DecodeItems reads an array of order lines.
func DecodeItems(d *jx.Decoder) ([]promotion.Item, error) {
	var items []promotion.Item
	err := d.Arr(func(d *jx.Decoder) error {
		it, err := DecodeItem(d)
		if err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// EncodeApplied writes one audit trail entry.
func EncodeApplied(e *jx.Encoder, ap promotion.AppliedPromotion) {
	e.ObjStart()
	e.FieldStart("promotion_id")
	e.Str(ap.PromotionID)
	e.FieldStart("name")
	e.Str(ap.Name)
	e.FieldStart("kind")
	e.Str(string(ap.Kind))
	e.FieldStart("discount_amount")
	e.Int64(ap.DiscountAmount)
	if ap.VisualRef != "" {
		e.FieldStart("visual_ref")
		e.Str(ap.VisualRef)
	}
	e.ObjEnd()
}

// DecodeApplied reads one audit trail entry.
func DecodeApplied(d *jx.Decoder) (promotion.AppliedPromotion, error) {
	var ap promotion.AppliedPromotion
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "promotion_id":
			ap.PromotionID, err = d.Str()
		case "name":
			ap.Name, err = d.Str()
		case "kind":
			var s string
			s, err = d.Str()
			ap.Kind = promotion.Kind(s)
		case "discount_amount":
			ap.DiscountAmount, err = d.Int64()
		case "visual_ref":
			ap.VisualRef, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return promotion.AppliedPromotion{}, errors.Wrap(err, "decode applied promotion")
	}
	return ap, nil
}

// MarshalItems encodes order lines as a JSON array.
func MarshalItems(items []promotion.Item) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, it := range items {
		EncodeItem(&e, it)
	}
	e.ArrEnd()
	return e.Bytes()
}

// MarshalApplied encodes an audit trail as a JSON array.
func MarshalApplied(applied []promotion.AppliedPromotion) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, ap := range applied {
		EncodeApplied(&e, ap)
	}
	e.ArrEnd()
	return e.Bytes()
}

// UnmarshalApplied decodes an audit trail.
func UnmarshalApplied(data []byte) ([]promotion.AppliedPromotion, error) {
	var out []promotion.AppliedPromotion
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		ap, err := DecodeApplied(d)
		if err != nil {
			return err
		}
		out = append(out, ap)
		return nil
	})
	return out, err
}
