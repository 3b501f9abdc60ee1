package promotion

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Calculator folds a promotion's actions into a single Outcome.
type Calculator struct {
	lg *zap.Logger
}

// NewCalculator creates a Calculator. A nil logger disables warnings.
func NewCalculator(lg *zap.Logger) *Calculator {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Calculator{lg: lg}
}

// Calculate applies actions in order. The summed discount is rounded to 2
// decimal places and clamped to [0, total] as the very last step.
func (c *Calculator) Calculate(actions []Action, total decimal.Decimal, items []LineItem) Outcome {
	return c.calculate(c.lg, actions, total, items)
}

func (c *Calculator) calculate(lg *zap.Logger, actions []Action, total decimal.Decimal, items []LineItem) Outcome {
	discount := decimal.Zero
	var out Outcome
	for _, a := range actions {
		switch e := a.effect().(type) {
		case fixedEffect:
			discount = discount.Add(e.amount)
		case percentEffect:
			amount := total.Mul(e.percent).Div(hundred).Round(2)
			if e.cap != nil && amount.GreaterThan(*e.cap) {
				amount = *e.cap
			}
			discount = discount.Add(amount)
		case freeShippingEffect:
			out.FreeShipping = true
		case giftEffect:
			out.GiftSKUIDs = append(out.GiftSKUIDs, e.skuID)
		case buyXGetYEffect:
			// Payout rules are not defined yet. The configuration is
			// validated at load and the action grants nothing.
		case malformedEffect:
			lg.Warn("Malformed action value, action skipped",
				zap.String("action_type", string(a.Type)),
				zap.String("value", a.Value),
				zap.Error(e.err),
			)
		}
	}
	out.DiscountAmount = clamp(discount.Round(2), total)
	return out
}

func clamp(discount, total decimal.Decimal) decimal.Decimal {
	if total.IsNegative() {
		total = decimal.Zero
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, total)
}
