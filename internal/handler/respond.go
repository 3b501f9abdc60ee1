package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/wire"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func badRequest(w http.ResponseWriter, err error) {
	httpmiddleware.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
}

// writeError maps service errors to responses. Unexpected errors are logged
// and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := promotion.AsRejection(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, func(e *jx.Encoder) {
			wire.EncodeRejection(e, http.StatusUnprocessableEntity, rej)
		})
		return
	}

	var (
		invalid  *promotion.InvalidSpecError
		fieldErr *wire.FieldError
	)
	switch {
	case errors.As(err, &invalid):
		httpmiddleware.WriteError(w, http.StatusBadRequest, "INVALID_PROMOTION", invalid.Error())
	case errors.As(err, &fieldErr):
		badRequest(w, fieldErr)
	case errors.Is(err, promotion.ErrUsageLimitBelowUsed):
		httpmiddleware.WriteError(w, http.StatusBadRequest, "INVALID_PROMOTION", err.Error())
	case errors.Is(err, promotion.ErrTenantRequired):
		httpmiddleware.WriteError(w, http.StatusBadRequest, "TENANT_REQUIRED", err.Error())
	case errors.Is(err, promotion.ErrOrderRequired):
		httpmiddleware.WriteError(w, http.StatusBadRequest, "ORDER_REQUIRED", err.Error())
	case errors.Is(err, promotion.ErrPromotionNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, promotion.ErrDuplicateCode):
		httpmiddleware.WriteError(w, http.StatusConflict, "DUPLICATE_CODE", err.Error())
	case errors.Is(err, promotion.ErrHasUsages):
		httpmiddleware.WriteError(w, http.StatusConflict, "HAS_USAGES", err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

// decodeBody decodes the request body with decode, limited to maxBodyBytes.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, decode func(d *jx.Decoder) (T, error)) (T, bool) {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	v, err := decode(d)
	if err == nil {
		err = wire.DecodeEnd(d)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpmiddleware.WriteError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
		} else {
			badRequest(w, err)
		}
		return v, false
	}
	return v, true
}
