package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/wire"
)

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody(w, r, wire.DecodeCodeRequest)
	if !ok {
		return
	}
	res, err := h.svc.Validate(r.Context(), tenant(r), req.Code, req.Cart)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeValidation(e, res) })
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody(w, r, wire.DecodeCodeRequest)
	if !ok {
		return
	}
	res, err := h.svc.Apply(r.Context(), tenant(r), req.Code, req.OrderID, req.Cart)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { wire.EncodeApply(e, res) })
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	var total *decimal.Decimal
	if raw := r.URL.Query().Get("total"); raw != "" {
		v, err := wire.ParseDecimal(raw)
		if err != nil {
			badRequest(w, err)
			return
		}
		total = &v
	}
	items, err := h.svc.ListAvailable(r.Context(), tenant(r), total)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodePromotions(e, items) })
}
