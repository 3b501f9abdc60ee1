package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Validator checks whether a promotion code can be used for a cart without
// writing anything.
type Validator struct {
	repo Reader
	eval *Evaluator
	calc *Calculator
	now  func() time.Time
	lg   *zap.Logger
}

// NewValidator creates a Validator reading promotions from repo.
func NewValidator(repo Reader, eval *Evaluator, calc *Calculator, now func() time.Time, lg *zap.Logger) *Validator {
	if now == nil {
		now = time.Now
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Validator{repo: repo, eval: eval, calc: calc, now: now, lg: lg}
}

// Validate returns the discount code would grant for cart, or a *Rejection
// explaining why it cannot be used.
func (v *Validator) Validate(ctx context.Context, tenantID, code string, cart Cart) (*ValidationResult, error) {
	_, res, err := v.validate(ctx, v.repo, tenantID, code, cart)
	return res, err
}

// validate runs the checks against r, which is either the repository or an
// open transaction.
func (v *Validator) validate(ctx context.Context, r Reader, tenantID, code string, cart Cart) (*Promotion, *ValidationResult, error) {
	if tenantID == "" {
		return nil, nil, ErrTenantRequired
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil, reject(ErrNotFound)
	}

	p, err := r.FindByCode(ctx, tenantID, code)
	if err != nil {
		if errors.Is(err, ErrPromotionNotFound) {
			return nil, nil, reject(ErrNotFound)
		}
		return nil, nil, errors.Wrap(err, "find promotion")
	}

	now := v.now()
	switch {
	case !p.IsActive:
		return nil, nil, reject(ErrInactive)
	case now.Before(p.StartTime):
		return nil, nil, reject(ErrNotYetStarted)
	case now.After(p.EndTime):
		return nil, nil, reject(ErrExpired)
	case p.Exhausted():
		return nil, nil, reject(ErrLimitReached)
	}

	if p.OncePerCustomer && cart.UserID != "" {
		used, err := r.HasUsage(ctx, tenantID, p.ID, cart.UserID)
		if err != nil {
			return nil, nil, errors.Wrap(err, "check usage")
		}
		if used {
			return nil, nil, reject(ErrAlreadyUsed)
		}
	}

	failed, err := v.eval.FirstFailing(ctx, p, cart)
	if err != nil {
		return nil, nil, errors.Wrap(err, "evaluate rules")
	}
	if failed != nil {
		return nil, nil, ruleFailed(*failed)
	}

	lg := v.lg.With(zap.String("promotion_id", p.ID))
	return p, &ValidationResult{
		PromotionID:   p.ID,
		PromotionName: p.Name,
		Outcome:       v.calc.calculate(lg, p.Actions, cart.TotalAmount, cart.Items),
	}, nil
}
