package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-promotions/internal/codec"
	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// ListPromotions returns the active promotion catalog.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.promotions.ListActive(r.Context())
	if err != nil {
		internalError(w, r, "List promotions failed", err)
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for _, p := range ps {
		codec.EncodeRecord(&e, promotion.ToRecord(p))
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetPromotion returns a single promotion definition regardless of status.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.promotions.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		internalError(w, r, "Get promotion failed", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, promotion.ErrNotFound.Error())
		return
	}

	var e jx.Encoder
	codec.EncodeRecord(&e, promotion.ToRecord(*p))
	writeJSON(w, http.StatusOK, &e)
}
