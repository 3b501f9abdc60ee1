// Command seed-db loads a demo tenant with sample promotions and order
// history. It is safe to run repeatedly.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/repository"
)

func main() {
	var (
		databaseURL string
		tenantID    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&tenantID, "tenant-id", "demo", "tenant to seed")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, tenantID); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed", zap.String("tenant_id", tenantID))
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, tenantID string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	orders := repository.NewOrderRepository(pool)
	svc, err := promotion.NewService(repository.NewPromotionRepository(pool), orders,
		promotion.WithLogger(lg.Named("promotion")),
	)
	if err != nil {
		return errors.Wrap(err, "create promotion service")
	}

	if err := seedOrders(ctx, lg, orders, tenantID); err != nil {
		return errors.Wrap(err, "seed orders")
	}
	if err := seedPromotions(ctx, lg, svc, tenantID, time.Now()); err != nil {
		return errors.Wrap(err, "seed promotions")
	}
	return nil
}

// demoOrders gives "returning-customer" a purchase history so FIRST_ORDER
// promotions reject them.
func demoOrders(tenantID string) []repository.Order {
	return []repository.Order{
		{ID: tenantID + "-order-1", TenantID: tenantID, UserID: "returning-customer", Status: "COMPLETED", Total: decimal.NewFromInt(250000)},
		{ID: tenantID + "-order-2", TenantID: tenantID, UserID: "cancelled-customer", Status: "CANCELLED", Total: decimal.NewFromInt(90000)},
	}
}

func seedOrders(ctx context.Context, lg *zap.Logger, orders *repository.OrderRepository, tenantID string) error {
	for _, o := range demoOrders(tenantID) {
		if err := orders.Upsert(ctx, o); err != nil {
			return err
		}
		lg.Info("Upserted order", zap.String("id", o.ID), zap.String("status", o.Status))
	}
	return nil
}

// demoPromotions covers every rule and action type.
func demoPromotions(now time.Time) []promotion.Spec {
	start, end := now.Add(-time.Hour), now.AddDate(1, 0, 0)
	limit := 1000
	cap20k := decimal.NewFromInt(20000)
	return []promotion.Spec{
		{
			Name:       "Ten percent over 500k",
			Code:       "TEN",
			StartTime:  start,
			EndTime:    end,
			Priority:   10,
			UsageLimit: &limit,
			Rules: []promotion.RuleSpec{
				{Type: promotion.RuleMinOrderValue, Operator: promotion.OpGTE, Value: "500000"},
			},
			Actions: []promotion.ActionSpec{
				{Type: promotion.ActionDiscountPercent, Value: "10", MaxDiscountAmount: &cap20k},
			},
		},
		{
			Name:      "Welcome discount",
			Code:      "WELCOME",
			StartTime: start,
			EndTime:   end,
			Priority:  5,
			Rules: []promotion.RuleSpec{
				{Type: promotion.RuleFirstOrder, Operator: promotion.OpEQ, Value: "true"},
			},
			Actions: []promotion.ActionSpec{
				{Type: promotion.ActionDiscountFixed, Value: "50000"},
			},
		},
		{
			Name:      "VIP electronics",
			Code:      "VIPTECH",
			StartTime: start,
			EndTime:   end,
			Rules: []promotion.RuleSpec{
				{Type: promotion.RuleCustomerGroup, Operator: promotion.OpIn, Value: `["vip"]`},
				{Type: promotion.RuleSpecificCategory, Operator: promotion.OpIn, Value: `["electronics"]`},
				{Type: promotion.RuleMinQuantity, Operator: promotion.OpGTE, Value: "2"},
			},
			Actions: []promotion.ActionSpec{
				{Type: promotion.ActionDiscountPercent, Value: "15"},
				{Type: promotion.ActionGift, Value: "sku-gift-case"},
			},
		},
		{
			Name:      "Free shipping over 300k",
			StartTime: start,
			EndTime:   end,
			Priority:  1,
			Rules: []promotion.RuleSpec{
				{Type: promotion.RuleMinOrderValue, Operator: promotion.OpGTE, Value: "300000"},
			},
			Actions: []promotion.ActionSpec{
				{Type: promotion.ActionFreeShipping},
			},
		},
		{
			Name:      "Socks bundle",
			Code:      "SOCKS",
			StartTime: start,
			EndTime:   end,
			Rules: []promotion.RuleSpec{
				{Type: promotion.RuleSpecificProduct, Operator: promotion.OpIn, Value: `["prod-socks"]`},
			},
			Actions: []promotion.ActionSpec{
				{Type: promotion.ActionBuyXGetY, Value: `{"buy_quantity":2,"get_quantity":1,"product_ids":["prod-socks"]}`},
			},
		},
	}
}

func seedPromotions(ctx context.Context, lg *zap.Logger, svc *promotion.Service, tenantID string, now time.Time) error {
	for _, spec := range demoPromotions(now) {
		if spec.Code == "" {
			// Auto-applied promotions have no unique key, match them by name.
			page, err := svc.List(ctx, tenantID, promotion.ListFilter{Search: spec.Name})
			if err != nil {
				return err
			}
			if page.Total > 0 {
				lg.Info("Promotion exists", zap.String("name", spec.Name))
				continue
			}
		}

		p, err := svc.Create(ctx, tenantID, spec)
		switch {
		case errors.Is(err, promotion.ErrDuplicateCode):
			lg.Info("Promotion exists", zap.String("code", spec.Code))
		case err != nil:
			return errors.Wrapf(err, "create %q", spec.Name)
		default:
			lg.Info("Created promotion", zap.String("id", p.ID), zap.String("name", p.Name))
		}
	}
	return nil
}
