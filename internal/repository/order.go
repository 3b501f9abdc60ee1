package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	countNonCancelledOrdersSQL = `SELECT count(*) FROM orders
	WHERE tenant_id = $1 AND user_id = $2 AND status <> 'CANCELLED'`

	upsertOrderSQL = `INSERT INTO orders (id, tenant_id, user_id, status, total)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, total = EXCLUDED.total`
)

// Order is the slice of an order that FIRST_ORDER rules look at.
type Order struct {
	ID       string
	TenantID string
	UserID   string
	Status   string
	Total    decimal.Decimal
}

var _ promotion.OrderHistory = (*OrderRepository)(nil)

// OrderRepository answers FIRST_ORDER lookups from the orders table.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CountNonCancelledOrders counts the user's orders that were not cancelled.
func (r *OrderRepository) CountNonCancelledOrders(ctx context.Context, tenantID, userID string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countNonCancelledOrdersSQL, tenantID, userID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count orders of user %q", userID)
	}
	return int(n), nil
}

// Upsert records an order, replacing the status and total of an existing one.
func (r *OrderRepository) Upsert(ctx context.Context, o Order) error {
	if _, err := r.pool.Exec(ctx, upsertOrderSQL, o.ID, o.TenantID, o.UserID, o.Status, o.Total); err != nil {
		return errors.Wrapf(err, "upsert order %q", o.ID)
	}
	return nil
}
