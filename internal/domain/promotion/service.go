package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	defaultRecentUsages = 10
	defaultListLimit    = 20
	maxListLimit        = 100
	// maxListPage keeps the row offset well inside the int32 range.
	maxListPage         = 1_000_000

	instrumentationName = "github.com/xenking/promo-engine/internal/domain/promotion"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	lg           *zap.Logger
	now          func() time.Time
	tp           trace.TracerProvider
	mp           metric.MeterProvider
	recentUsages int
	listLimit    int
}

// WithLogger sets the logger used for warnings and rejections.
func WithLogger(lg *zap.Logger) Option {
	return func(o *options) { o.lg = lg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTracerProvider sets the tracer provider. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider sets the meter provider. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

// WithRecentUsages sets how many usages Get attaches to a promotion.
func WithRecentUsages(n int) Option {
	return func(o *options) { o.recentUsages = n }
}

// WithListLimit sets the default page size of List.
func WithListLimit(n int) Option {
	return func(o *options) { o.listLimit = n }
}

// Service is the entry point of the promotion engine. It wires the
// validator, the applier and the admin operations over one repository.
type Service struct {
	repo      Repository
	eval      *Evaluator
	validator *Validator
	applier   *Applier
	now       func() time.Time
	lg        *zap.Logger

	recentUsages int
	listLimit    int

	tracer       trace.Tracer
	validations  metric.Int64Counter
	applications metric.Int64Counter
}

// NewService creates a Service.
func NewService(repo Repository, orders OrderHistory, opts ...Option) (*Service, error) {
	o := options{
		lg:           zap.NewNop(),
		now:          time.Now,
		tp:           tracenoop.NewTracerProvider(),
		mp:           metricnoop.NewMeterProvider(),
		recentUsages: defaultRecentUsages,
		listLimit:    defaultListLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.listLimit <= 0 || o.listLimit > maxListLimit {
		o.listLimit = defaultListLimit
	}

	meter := o.mp.Meter(instrumentationName)
	validations, err := meter.Int64Counter("promotion.validations",
		metric.WithDescription("Number of promotion validations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validations counter")
	}
	applications, err := meter.Int64Counter("promotion.applications",
		metric.WithDescription("Number of promotion applications by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create applications counter")
	}

	eval := NewEvaluator(orders, o.lg)
	validator := NewValidator(repo, eval, NewCalculator(o.lg), o.now, o.lg)
	return &Service{
		repo:         repo,
		eval:         eval,
		validator:    validator,
		applier:      NewApplier(repo, validator, o.now),
		now:          o.now,
		lg:           o.lg,
		recentUsages: o.recentUsages,
		listLimit:    o.listLimit,
		tracer:       o.tp.Tracer(instrumentationName),
		validations:  validations,
		applications: applications,
	}, nil
}

// Validate reports the discount code grants for cart without consuming it.
func (s *Service) Validate(ctx context.Context, tenantID, code string, cart Cart) (*ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.Validate",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	res, err := s.validator.Validate(ctx, tenantID, code, cart)
	s.record(ctx, span, s.validations, err)
	return res, err
}

// Apply consumes code for orderID.
func (s *Service) Apply(ctx context.Context, tenantID, code, orderID string, cart Cart) (*ApplyResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.Apply",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("order.id", orderID),
		),
	)
	defer span.End()

	res, err := s.applier.Apply(ctx, tenantID, code, orderID, cart)
	s.record(ctx, span, s.applications, err)
	if err == nil {
		s.lg.Info("Promotion applied",
			zap.String("tenant_id", tenantID),
			zap.String("promotion_id", res.PromotionID),
			zap.String("order_id", orderID),
			zap.String("discount", res.DiscountAmount.String()),
		)
	}
	return res, err
}

// record counts the outcome of a validation or application. Rejections are
// expected outcomes and are not marked as span errors.
func (s *Service) record(ctx context.Context, span trace.Span, c metric.Int64Counter, err error) {
	outcome := "ok"
	if err != nil {
		if r, ok := AsRejection(err); ok {
			outcome = string(r.Reason)
			span.SetAttributes(attribute.String("promotion.rejection", outcome))
			s.lg.Debug("Promotion rejected",
				zap.String("reason", outcome),
				zap.String("rule_type", string(r.RuleType)),
			)
		} else {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Create validates spec and stores a new promotion.
func (s *Service) Create(ctx context.Context, tenantID string, spec Spec) (*Promotion, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	p := spec.build()
	if err := check(p); err != nil {
		return nil, err
	}

	now := s.now()
	p.ID = uuid.New().String()
	p.TenantID = tenantID
	p.CreatedAt = now
	p.UpdatedAt = now
	s.warnUnknownRules(p)
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create promotion")
	}
	return p, nil
}

// List returns one page of the tenant's promotions.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) (*Page, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	filter.Page = min(max(filter.Page, 1), maxListPage)
	if filter.Limit <= 0 {
		filter.Limit = s.listLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	filter.Search = strings.TrimSpace(filter.Search)

	items, total, err := s.repo.List(ctx, tenantID, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list promotions")
	}
	return &Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// Get returns a promotion with its most recent usages.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*Promotion, error) {
	p, err := s.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	usages, err := s.repo.RecentUsages(ctx, tenantID, id, s.recentUsages)
	if err != nil {
		return nil, errors.Wrap(err, "recent usages")
	}
	p.RecentUsages = usages
	return p, nil
}

func (s *Service) get(ctx context.Context, tenantID, id string) (*Promotion, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	p, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, ErrPromotionNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get promotion")
	}
	return p, nil
}

// Update merges patch into the stored promotion.
func (s *Service) Update(ctx context.Context, tenantID, id string, patch Patch) (*Promotion, error) {
	current, err := s.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	p := patch.apply(*current)
	if err := check(p); err != nil {
		return nil, err
	}
	if p.UsageLimit != nil && *p.UsageLimit < p.UsedCount {
		return nil, ErrUsageLimitBelowUsed
	}
	s.warnUnknownRules(p)

	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateCode) ||
			errors.Is(err, ErrUsageLimitBelowUsed) ||
			errors.Is(err, ErrPromotionNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update promotion")
	}
	return p, nil
}

// ToggleActive flips the active flag and returns the updated promotion.
func (s *Service) ToggleActive(ctx context.Context, tenantID, id string) (*Promotion, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if err := s.repo.ToggleActive(ctx, tenantID, id); err != nil {
		if errors.Is(err, ErrPromotionNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "toggle promotion")
	}
	return s.get(ctx, tenantID, id)
}

// Remove soft-deletes a promotion that has never been used.
func (s *Service) Remove(ctx context.Context, tenantID, id string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	if err := s.repo.SoftDelete(ctx, tenantID, id); err != nil {
		if errors.Is(err, ErrPromotionNotFound) || errors.Is(err, ErrHasUsages) {
			return err
		}
		return errors.Wrap(err, "remove promotion")
	}
	return nil
}

// Stats aggregates the usages of a promotion.
func (s *Service) Stats(ctx context.Context, tenantID, id string) (*Stats, error) {
	p, err := s.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.UsageTotals(ctx, tenantID, id)
	if err != nil {
		return nil, errors.Wrap(err, "usage totals")
	}

	st := &Stats{
		TotalUsages:      totals.Count,
		TotalDiscount:    totals.Discount.Round(2),
		TotalOrderAmount: totals.OrderAmount.Round(2),
		AverageDiscount:  decimal.Zero,
	}
	if totals.Count > 0 {
		st.AverageDiscount = totals.Discount.Div(decimal.NewFromInt(int64(totals.Count))).Round(2)
	}
	if p.UsageLimit != nil {
		remaining := max(*p.UsageLimit-p.UsedCount, 0)
		st.RemainingUsages = &remaining
	}
	return st, nil
}

func (s *Service) warnUnknownRules(p *Promotion) {
	for _, r := range p.Rules {
		if !r.Type.Known() {
			s.lg.Warn("Promotion uses unknown rule type, it will always pass",
				zap.String("promotion_id", p.ID),
				zap.String("rule_type", string(r.Type)),
			)
		}
	}
}
