package promotion

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ListAvailable returns the promotions a customer could currently use,
// highest priority first. When total is given, promotions whose
// MIN_ORDER_VALUE rules reject a cart of that total are left out. Other rule
// types are not checked here; Validate remains authoritative.
func (s *Service) ListAvailable(ctx context.Context, tenantID string, total *decimal.Decimal) ([]Promotion, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	ctx, span := s.tracer.Start(ctx, "promotion.ListAvailable")
	defer span.End()

	now := s.now()
	promos, err := s.repo.ListAvailable(ctx, tenantID, now)
	if err != nil {
		return nil, errors.Wrap(err, "list available promotions")
	}

	out := make([]Promotion, 0, len(promos))
	for _, p := range promos {
		if !p.Available(now) {
			continue
		}
		if total != nil && !s.meetsMinOrderValue(ctx, &p, *total) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out, nil
}

func (s *Service) meetsMinOrderValue(ctx context.Context, p *Promotion, total decimal.Decimal) bool {
	cart := Cart{TotalAmount: total}
	for _, r := range p.Rules {
		if r.Type != RuleMinOrderValue {
			continue
		}
		// MIN_ORDER_VALUE never touches order history, the error is always nil.
		ok, _ := s.eval.Evaluate(ctx, p.TenantID, r, cart)
		if !ok {
			return false
		}
	}
	return true
}
