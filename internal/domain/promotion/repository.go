package promotion

import (
	"context"
	"time"
)

// Reader is the read side shared by the repository and its transactions.
type Reader interface {
	// FindByCode returns ErrPromotionNotFound when no live promotion has code.
	FindByCode(ctx context.Context, tenantID, code string) (*Promotion, error)
	HasUsage(ctx context.Context, tenantID, promotionID, userID string) (bool, error)
}

// Tx is a unit of work opened by Repository.WithinTx.
type Tx interface {
	Reader
	// IncrementUsage atomically increments used_count only while the usage
	// limit still allows it. It reports false when the limit was reached.
	IncrementUsage(ctx context.Context, tenantID, promotionID string) (bool, error)
	// InsertUsage returns ErrDuplicateUsage when a once-per-customer
	// promotion already has a usage for the user.
	InsertUsage(ctx context.Context, u *Usage) error
}

// Repository persists promotions and their usages, scoped by tenant.
type Repository interface {
	Reader

	// WithinTx runs fn in a transaction. The transaction is committed when fn
	// returns nil and rolled back otherwise; fn's error is returned as is.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Create returns ErrDuplicateCode when the code is taken.
	Create(ctx context.Context, p *Promotion) error
	GetByID(ctx context.Context, tenantID, id string) (*Promotion, error)
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Promotion, int, error)
	// Update replaces the promotion row and its rules and actions. It returns
	// ErrUsageLimitBelowUsed if the stored used count exceeds the new limit.
	Update(ctx context.Context, p *Promotion) error
	ToggleActive(ctx context.Context, tenantID, id string) error
	// SoftDelete returns ErrHasUsages when any usage exists.
	SoftDelete(ctx context.Context, tenantID, id string) error
	// ListAvailable returns active, in-window, not exhausted promotions
	// ordered by priority descending.
	ListAvailable(ctx context.Context, tenantID string, now time.Time) ([]Promotion, error)
	RecentUsages(ctx context.Context, tenantID, promotionID string, limit int) ([]Usage, error)
	UsageTotals(ctx context.Context, tenantID, promotionID string) (UsageTotals, error)
}

// OrderHistory answers questions about a customer's previous orders.
type OrderHistory interface {
	CountNonCancelledOrders(ctx context.Context, tenantID, userID string) (int, error)
}
