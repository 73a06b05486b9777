// Package codec encodes promotion records as JSON.
//
// The format is shared by the promotion cache, the catalog importer and the
// HTTP API, so field names follow the database columns.
package codec

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// EncodeRecord writes r as a JSON object. Empty fields are omitted.
func EncodeRecord(e *jx.Encoder, r promotion.Record) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.ID)
	e.FieldStart("name")
	e.Str(r.Name)
	e.FieldStart("kind")
	e.Str(r.Kind)
	e.FieldStart("status")
	e.Str(r.Status)
	e.FieldStart("priority")
	e.Int(r.Priority)
	if r.Code != "" {
		e.FieldStart("code")
		e.Str(r.Code)
	}
	if r.VisualRef != "" {
		e.FieldStart("visual_ref")
		e.Str(r.VisualRef)
	}
	e.FieldStart("usage_count")
	e.Int(r.UsageCount)

	optInt64(e, "min_order_amount", r.MinOrderAmount)
	optInt64(e, "max_order_amount", r.MaxOrderAmount)
	optInt(e, "min_items", r.MinItems)
	optInt(e, "max_items", r.MaxItems)
	optStrings(e, "order_types", r.OrderTypes)
	optStrings(e, "product_ids", r.ProductIDs)
	optStrings(e, "category_ids", r.CategoryIDs)
	if len(r.DaysOfWeek) > 0 {
		e.FieldStart("days_of_week")
		e.ArrStart()
		for _, d := range r.DaysOfWeek {
			e.Int(d)
		}
		e.ArrEnd()
	}
	optStr(e, "time_start", r.TimeStart)
	optStr(e, "time_end", r.TimeEnd)
	optTime(e, "start_date", r.StartDate)
	optTime(e, "end_date", r.EndDate)
	optInt(e, "usage_limit", r.UsageLimit)
	optInt(e, "per_customer_limit", r.PerCustomerLimit)
	if r.FirstOrderOnly {
		e.FieldStart("first_order_only")
		e.Bool(true)
	}
	optStr(e, "rule", r.Rule)

	optStr(e, "discount_type", r.DiscountType)
	if !r.DiscountValue.IsZero() {
		e.FieldStart("discount_value")
		e.Str(r.DiscountValue.String())
	}
	optStr(e, "discount_scope", r.DiscountScope)
	optStrings(e, "discount_product_ids", r.DiscountProductIDs)
	optStrings(e, "discount_category_ids", r.DiscountCategoryIDs)
	optInt64(e, "max_discount_amount", r.MaxDiscountAmount)
	optInt(e, "buy_quantity", r.BuyQuantity)
	optInt(e, "get_quantity", r.GetQuantity)
	e.ObjEnd()
}

// DecodeRecord reads a JSON object into a Record. Unknown fields are skipped.
func DecodeRecord(d *jx.Decoder) (promotion.Record, error) {
	var r promotion.Record
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			r.ID, err = d.Str()
		case "name":
			r.Name, err = d.Str()
		case "kind":
			r.Kind, err = d.Str()
		case "status":
			r.Status, err = d.Str()
		case "priority":
			r.Priority, err = d.Int()
		case "code":
			r.Code, err = d.Str()
		case "visual_ref":
			r.VisualRef, err = d.Str()
		case "usage_count":
			r.UsageCount, err = d.Int()
		case "min_order_amount":
			r.MinOrderAmount, err = d.Int64()
		case "max_order_amount":
			r.MaxOrderAmount, err = d.Int64()
		case "min_items":
			r.MinItems, err = d.Int()
		case "max_items":
			r.MaxItems, err = d.Int()
		case "order_types":
			r.OrderTypes, err = decodeStrings(d)
		case "product_ids":
			r.ProductIDs, err = decodeStrings(d)
		case "category_ids":
			r.CategoryIDs, err = decodeStrings(d)
		case "days_of_week":
			err = d.Arr(func(d *jx.Decoder) error {
				v, err := d.Int()
				if err != nil {
					return err
				}
				r.DaysOfWeek = append(r.DaysOfWeek, v)
				return nil
			})
		case "time_start":
			r.TimeStart, err = d.Str()
		case "time_end":
			r.TimeEnd, err = d.Str()
		case "start_date":
			r.StartDate, err = decodeTime(d)
		case "end_date":
			r.EndDate, err = decodeTime(d)
		case "usage_limit":
			r.UsageLimit, err = d.Int()
		case "per_customer_limit":
			r.PerCustomerLimit, err = d.Int()
		case "first_order_only":
			r.FirstOrderOnly, err = d.Bool()
		case "rule":
			r.Rule, err = d.Str()
		case "discount_type":
			r.DiscountType, err = d.Str()
		case "discount_value":
			r.DiscountValue, err = DecodeDecimal(d)
		case "discount_scope":
			r.DiscountScope, err = d.Str()
		case "discount_product_ids":
			r.DiscountProductIDs, err = decodeStrings(d)
		case "discount_category_ids":
			r.DiscountCategoryIDs, err = decodeStrings(d)
		case "max_discount_amount":
			r.MaxDiscountAmount, err = d.Int64()
		case "buy_quantity":
			r.BuyQuantity, err = d.Int()
		case "get_quantity":
			r.GetQuantity, err = d.Int()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return promotion.Record{}, errors.Wrap(err, "decode promotion record")
	}
	return r, nil
}

// MarshalRecords encodes records as a JSON array.
func MarshalRecords(records []promotion.Record) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, r := range records {
		EncodeRecord(&e, r)
	}
	e.ArrEnd()
	return e.Bytes()
}

// UnmarshalRecords decodes a JSON array of records.
func UnmarshalRecords(data []byte) ([]promotion.Record, error) {
	var out []promotion.Record
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		r, err := DecodeRecord(d)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode promotion records")
	}
	return out, nil
}

// DecodeDecimal accepts both JSON numbers and numeric strings.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		s = n.String()
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for decimal", d.Next())
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse decimal %q", s)
	}
	return v, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse time %q", s)
	}
	return &t, nil
}

func optStr(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.FieldStart(name)
	e.Str(v)
}

func optInt(e *jx.Encoder, name string, v int) {
	if v == 0 {
		return
	}
	e.FieldStart(name)
	e.Int(v)
}

func optInt64(e *jx.Encoder, name string, v int64) {
	if v == 0 {
		return
	}
	e.FieldStart(name)
	e.Int64(v)
}

func optStrings(e *jx.Encoder, name string, v []string) {
	if len(v) == 0 {
		return
	}
	e.FieldStart(name)
	e.ArrStart()
	for _, s := range v {
		e.Str(s)
	}
	e.ArrEnd()
}

func optTime(e *jx.Encoder, name string, v *time.Time) {
	if v == nil {
		return
	}
	e.FieldStart(name)
	e.Str(v.UTC().Format(time.RFC3339Nano))
}
