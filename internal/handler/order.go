package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-promotions/internal/codec"
	"github.com/xenking/oolio-promotions/internal/domain/order"
	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// PreviewOrder prices the submitted cart without committing it.
func (h *Handler) PreviewOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOrderRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	priced, err := h.orders.Preview(r.Context(), req)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	encodeTotals(&e, priced)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// PlaceOrder prices and commits the submitted cart.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOrderRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	if o.CustomerID != "" {
		e.FieldStart("customer_id")
		e.Str(o.CustomerID)
	}
	encodeTotals(&e, promotion.Order{
		Items:             o.Items,
		Subtotal:          o.Subtotal,
		Total:             o.Total,
		ShippingCost:      o.ShippingCost,
		OrderType:         o.OrderType,
		PromoCode:         o.PromoCode,
		AppliedPromotions: o.AppliedPromotions,
		TotalDiscount:     o.TotalDiscount,
	})
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, &e)
}

// mapOrderError converts domain errors to HTTP error responses.
func mapOrderError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, order.ErrEmptyItems) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var iqErr *order.InvalidQuantityError
	if errors.As(err, &iqErr) {
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
		return
	}

	var ipErr *order.InvalidPriceError
	if errors.As(err, &ipErr) {
		writeError(w, http.StatusUnprocessableEntity, ipErr.Error())
		return
	}

	internalError(w, r, "Order request failed", err)
}

func decodeOrderRequest(w http.ResponseWriter, r *http.Request) (order.Request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return order.Request{}, errors.Wrap(err, "read body")
	}

	var req order.Request
	err = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = codec.DecodeItems(d)
		case "shipping_cost":
			req.ShippingCost, err = d.Int64()
		case "order_type":
			var s string
			s, err = d.Str()
			req.OrderType = promotion.OrderType(s)
		case "promo_code":
			req.PromoCode, err = d.Str()
		case "customer_id":
			req.CustomerID, err = d.Str()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return order.Request{}, errors.Wrap(err, "invalid request body")
	}
	return req, nil
}

// encodeTotals writes the priced fields of o into an open object.
func encodeTotals(e *jx.Encoder, o promotion.Order) {
	if o.OrderType != "" {
		e.FieldStart("order_type")
		e.Str(string(o.OrderType))
	}
	if o.PromoCode != "" {
		e.FieldStart("promo_code")
		e.Str(o.PromoCode)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		codec.EncodeItem(e, it)
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	e.Int64(o.Subtotal)
	e.FieldStart("total_discount")
	e.Int64(o.TotalDiscount)
	e.FieldStart("total")
	e.Int64(o.Total)
	e.FieldStart("shipping_cost")
	e.Int64(o.ShippingCost)
	e.FieldStart("free_shipping")
	e.Bool(o.FreeShipping())
	e.FieldStart("grand_total")
	e.Int64(o.GrandTotal())
	e.FieldStart("applied_promotions")
	e.ArrStart()
	for _, ap := range o.AppliedPromotions {
		codec.EncodeApplied(e, ap)
	}
	e.ArrEnd()
}
