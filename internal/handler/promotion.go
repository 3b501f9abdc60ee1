package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/wire"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

func tenant(r *http.Request) string {
	return httpmiddleware.TenantFromContext(r.Context())
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	spec, ok := decodeBody(w, r, wire.DecodeSpec)
	if !ok {
		return
	}
	p, err := h.svc.Create(r.Context(), tenant(r), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { wire.EncodePromotion(e, p) })
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	page, err := h.svc.List(r.Context(), tenant(r), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodePage(e, page) })
}

func parseListFilter(r *http.Request) (promotion.ListFilter, error) {
	q := r.URL.Query()
	filter := promotion.ListFilter{Search: q.Get("search")}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"page", &filter.Page},
		{"limit", &filter.Limit},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errors.Errorf("invalid %s %q", p.name, raw)
		}
		*p.dst = n
	}
	if raw := q.Get("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errors.Errorf("invalid is_active %q", raw)
		}
		filter.IsActive = &active
	}
	return filter, nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), tenant(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodePromotion(e, p) })
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeBody(w, r, wire.DecodePatch)
	if !ok {
		return
	}
	p, err := h.svc.Update(r.Context(), tenant(r), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodePromotion(e, p) })
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.ToggleActive(r.Context(), tenant(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodePromotion(e, p) })
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), tenant(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), tenant(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeStats(e, st) })
}
