// Package handler exposes the order pricing and promotion catalog over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-promotions/internal/domain/order"
	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// OrderService prices and places orders.
type OrderService interface {
	Preview(ctx context.Context, req order.Request) (promotion.Order, error)
	PlaceOrder(ctx context.Context, req order.Request) (*order.Order, error)
}

var _ http.Handler = (*Handler)(nil)

// Handler routes API requests to the order service and promotion repository.
type Handler struct {
	orders     OrderService
	promotions promotion.Repository
	mux        *http.ServeMux
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders OrderService, promotions promotion.Repository) *Handler {
	h := &Handler{
		orders:     orders,
		promotions: promotions,
		mux:        http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /api/orders/preview", h.PreviewOrder)
	h.mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	h.mux.HandleFunc("GET /api/promotions", h.ListPromotions)
	h.mux.HandleFunc("GET /api/promotions/{id}", h.GetPromotion)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Route returns the pattern matched by r, or an empty string when no route
// matches. Used to label access logs and spans.
func (h *Handler) Route(r *http.Request) string {
	_, pattern := h.mux.Handler(r)
	return pattern
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

// internalError logs err and answers with an opaque 500.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
