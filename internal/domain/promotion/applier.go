package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Applier consumes a promotion for an order. Validation, the usage counter
// increment and the usage record are committed in one transaction.
type Applier struct {
	repo      Repository
	validator *Validator
	now       func() time.Time
}

// NewApplier creates an Applier. It re-runs validator inside the transaction.
func NewApplier(repo Repository, validator *Validator, now func() time.Time) *Applier {
	if now == nil {
		now = time.Now
	}
	return &Applier{repo: repo, validator: validator, now: now}
}

// Apply validates code for cart and records a usage for orderID. Concurrent
// calls never push the used count past the usage limit: the increment is a
// conditional update, and losing it yields a LIMIT_REACHED rejection.
func (a *Applier) Apply(ctx context.Context, tenantID, code, orderID string, cart Cart) (*ApplyResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if orderID == "" {
		return nil, ErrOrderRequired
	}

	var result *ApplyResult
	if err := a.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		p, res, err := a.validator.validate(ctx, tx, tenantID, code, cart)
		if err != nil {
			return err
		}

		ok, err := tx.IncrementUsage(ctx, tenantID, p.ID)
		if err != nil {
			return errors.Wrap(err, "increment usage")
		}
		if !ok {
			return reject(ErrLimitReached)
		}

		u := &Usage{
			ID:             uuid.New().String(),
			PromotionID:    p.ID,
			TenantID:       tenantID,
			UserID:         cart.UserID,
			OrderID:        orderID,
			DiscountAmount: res.DiscountAmount,
			OrderAmount:    cart.TotalAmount,
			CreatedAt:      a.now(),
		}
		if err := tx.InsertUsage(ctx, u); err != nil {
			if errors.Is(err, ErrDuplicateUsage) {
				return reject(ErrAlreadyUsed)
			}
			return errors.Wrap(err, "insert usage")
		}

		result = &ApplyResult{ValidationResult: *res, UsageID: u.ID}
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}
