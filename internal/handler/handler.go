// Package handler exposes the promotion service over HTTP with JSON bodies.
// Requests must already be scoped to a tenant by httpmiddleware.Tenant.
package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Service is the subset of *promotion.Service used by the handlers.
type Service interface {
	Create(ctx context.Context, tenantID string, spec promotion.Spec) (*promotion.Promotion, error)
	List(ctx context.Context, tenantID string, filter promotion.ListFilter) (*promotion.Page, error)
	Get(ctx context.Context, tenantID, id string) (*promotion.Promotion, error)
	Update(ctx context.Context, tenantID, id string, patch promotion.Patch) (*promotion.Promotion, error)
	ToggleActive(ctx context.Context, tenantID, id string) (*promotion.Promotion, error)
	Remove(ctx context.Context, tenantID, id string) error
	Stats(ctx context.Context, tenantID, id string) (*promotion.Stats, error)
	Validate(ctx context.Context, tenantID, code string, cart promotion.Cart) (*promotion.ValidationResult, error)
	Apply(ctx context.Context, tenantID, code, orderID string, cart promotion.Cart) (*promotion.ApplyResult, error)
	ListAvailable(ctx context.Context, tenantID string, total *decimal.Decimal) ([]promotion.Promotion, error)
}

var _ Service = (*promotion.Service)(nil)

// Handler serves the /api/promotions routes.
type Handler struct {
	svc Service
}

// New creates a Handler backed by svc.
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Register adds the promotion routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/promotions", h.create)
	mux.HandleFunc("GET /api/promotions", h.list)
	mux.HandleFunc("GET /api/promotions/available", h.available)
	mux.HandleFunc("POST /api/promotions/validate", h.validate)
	mux.HandleFunc("POST /api/promotions/apply", h.apply)
	mux.HandleFunc("GET /api/promotions/{id}", h.get)
	mux.HandleFunc("PATCH /api/promotions/{id}", h.update)
	mux.HandleFunc("DELETE /api/promotions/{id}", h.remove)
	mux.HandleFunc("POST /api/promotions/{id}/toggle", h.toggle)
	mux.HandleFunc("GET /api/promotions/{id}/stats", h.stats)
}
