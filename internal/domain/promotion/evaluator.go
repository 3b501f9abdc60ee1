package promotion

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Evaluator decides whether a single rule holds for a cart.
type Evaluator struct {
	orders OrderHistory
	lg     *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger disables warnings.
func NewEvaluator(orders OrderHistory, lg *zap.Logger) *Evaluator {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Evaluator{orders: orders, lg: lg}
}

// Evaluate reports whether rule holds for cart. The only error source is the
// order history lookup of FIRST_ORDER rules.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID string, rule Rule, cart Cart) (bool, error) {
	return e.evaluate(ctx, e.lg, tenantID, rule, cart)
}

// FirstFailing returns the first rule of p that does not hold for cart, or
// nil when all of them do.
func (e *Evaluator) FirstFailing(ctx context.Context, p *Promotion, cart Cart) (*Rule, error) {
	lg := e.lg.With(zap.String("promotion_id", p.ID))
	for i := range p.Rules {
		ok, err := e.evaluate(ctx, lg, p.TenantID, p.Rules[i], cart)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &p.Rules[i], nil
		}
	}
	return nil, nil
}

func (e *Evaluator) evaluate(ctx context.Context, lg *zap.Logger, tenantID string, rule Rule, cart Cart) (bool, error) {
	switch c := rule.condition().(type) {
	case thresholdCondition:
		subject := cart.TotalAmount
		if rule.Type == RuleMinQuantity {
			subject = decimal.NewFromInt(int64(cart.TotalQuantity()))
		}
		return compareDecimal(subject, rule.Operator, c.limit), nil
	case idSetCondition:
		if rule.Type == RuleCustomerGroup {
			return matchGroup(c, rule.Operator, cart.CustomerGroupID), nil
		}
		return matchItems(c, rule.Operator, rule.Type, cart.Items), nil
	case firstOrderCondition:
		if cart.UserID == "" {
			return false, nil
		}
		n, err := e.orders.CountNonCancelledOrders(ctx, tenantID, cart.UserID)
		if err != nil {
			return false, errors.Wrap(err, "count orders")
		}
		return n == 0, nil
	case malformedCondition:
		lg.Warn("Malformed rule value, rule fails",
			zap.String("rule_type", string(rule.Type)),
			zap.String("value", rule.Value),
			zap.Error(c.err),
		)
		return false, nil
	default:
		lg.Warn("Unknown rule type, rule passes",
			zap.String("rule_type", string(rule.Type)),
		)
		return true, nil
	}
}
