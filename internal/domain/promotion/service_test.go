package promotion

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(t *testing.T, store *memStore, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	svc, err := NewService(store, &mockOrderHistory{}, opts...)
	require.NoError(t, err)
	return svc
}

func validSpec() Spec {
	return Spec{
		Name:      "Summer sale",
		Code:      " summer10 ",
		StartTime: testNow.Add(-time.Hour),
		EndTime:   testNow.Add(30 * 24 * time.Hour),
		Rules: []RuleSpec{
			{Type: RuleMinOrderValue, Operator: OpGTE, Value: "100"},
		},
		Actions: []ActionSpec{
			{Type: ActionDiscountPercent, Value: "10", MaxDiscountAmount: ptr(dec("50"))},
		},
	}
}

func TestService_Create(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)

	p, err := svc.Create(context.Background(), testTenant, validSpec())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, testTenant, p.TenantID)
	assert.Equal(t, "SUMMER10", p.Code)
	assert.True(t, p.IsActive)
	assert.True(t, p.OncePerCustomer, "code promotions are once per customer by default")
	assert.Equal(t, testNow, p.CreatedAt)
	require.Len(t, p.Rules, 1)
	require.NoError(t, p.Rules[0].Err())

	_, err = svc.Create(context.Background(), testTenant, validSpec())
	require.ErrorIs(t, err, ErrDuplicateCode)

	// Codes are unique per tenant only.
	_, err = svc.Create(context.Background(), "tenant-2", validSpec())
	require.NoError(t, err)
}

func TestService_CreateRoundsCap(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)

	spec := validSpec()
	spec.Actions = []ActionSpec{{Type: ActionDiscountPercent, Value: "10", MaxDiscountAmount: ptr(dec("12.345"))}}
	p, err := svc.Create(context.Background(), testTenant, spec)
	require.NoError(t, err)
	require.NotNil(t, p.Actions[0].MaxDiscountAmount)
	assert.Equal(t, "12.35", p.Actions[0].MaxDiscountAmount.String())

	got, err := svc.Get(context.Background(), testTenant, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Actions[0].MaxDiscountAmount.Equal(*p.Actions[0].MaxDiscountAmount))
	assert.Equal(t, "12.345", spec.Actions[0].MaxDiscountAmount.String(), "input is not mutated")
}

func TestService_CreateAutoApplied(t *testing.T) {
	svc := newTestService(t, newMemStore())

	spec := validSpec()
	spec.Code = ""
	p, err := svc.Create(context.Background(), testTenant, spec)
	require.NoError(t, err)
	assert.True(t, p.AutoApplied())
	assert.False(t, p.OncePerCustomer)

	spec.OncePerCustomer = ptr(true)
	p, err = svc.Create(context.Background(), testTenant, spec)
	require.NoError(t, err)
	assert.True(t, p.OncePerCustomer)
}

func TestService_CreateInvalid(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(s *Spec)
		wantField string
	}{
		{name: "missing name", modify: func(s *Spec) { s.Name = "  " }, wantField: "name"},
		{name: "end before start", modify: func(s *Spec) { s.EndTime = s.StartTime.Add(-time.Minute) }, wantField: "end_time"},
		{name: "equal window", modify: func(s *Spec) { s.EndTime = s.StartTime }, wantField: "end_time"},
		{name: "missing window", modify: func(s *Spec) { s.StartTime = time.Time{} }, wantField: "start_time"},
		{name: "negative usage limit", modify: func(s *Spec) { s.UsageLimit = ptr(-1) }, wantField: "usage_limit"},
		{name: "usage limit above int32", modify: func(s *Spec) { s.UsageLimit = ptr(math.MaxInt32 + 1) }, wantField: "usage_limit"},
		{name: "usage limit wrapping to one", modify: func(s *Spec) { s.UsageLimit = ptr(1<<32 + 1) }, wantField: "usage_limit"},
		{name: "priority above int32", modify: func(s *Spec) { s.Priority = math.MaxInt32 + 1 }, wantField: "priority"},
		{name: "priority below int32", modify: func(s *Spec) { s.Priority = math.MinInt32 - 1 }, wantField: "priority"},
		{name: "no rules", modify: func(s *Spec) { s.Rules = nil }, wantField: "rules"},
		{name: "no actions", modify: func(s *Spec) { s.Actions = nil }, wantField: "actions"},
		{
			name: "unknown operator",
			modify: func(s *Spec) {
				s.Rules = []RuleSpec{{Type: RuleMinOrderValue, Operator: "BETWEEN", Value: "1"}}
			},
			wantField: "rules[0]",
		},
		{
			name: "list operator on threshold",
			modify: func(s *Spec) {
				s.Rules = []RuleSpec{{Type: RuleMinQuantity, Operator: OpIn, Value: "1"}}
			},
			wantField: "rules[0]",
		},
		{
			name: "scalar operator on list",
			modify: func(s *Spec) {
				s.Rules = append(s.Rules, RuleSpec{Type: RuleSpecificProduct, Operator: OpEQ, Value: `["p1"]`})
			},
			wantField: "rules[1]",
		},
		{
			name: "malformed list",
			modify: func(s *Spec) {
				s.Rules = []RuleSpec{{Type: RuleSpecificCategory, Operator: OpIn, Value: "c1,c2"}}
			},
			wantField: "rules[0]",
		},
		{
			name: "list with trailing data",
			modify: func(s *Spec) {
				s.Rules = []RuleSpec{{Type: RuleSpecificProduct, Operator: OpIn, Value: `["p1"] not json at all`}}
			},
			wantField: "rules[0]",
		},
		{
			name: "unknown action",
			modify: func(s *Spec) {
				s.Actions = []ActionSpec{{Type: "CASHBACK", Value: "5"}}
			},
			wantField: "actions[0]",
		},
		{
			name: "percent above 100",
			modify: func(s *Spec) {
				s.Actions = []ActionSpec{{Type: ActionDiscountPercent, Value: "101"}}
			},
			wantField: "actions[0]",
		},
		{
			name: "zero fixed discount",
			modify: func(s *Spec) {
				s.Actions = []ActionSpec{{Type: ActionDiscountFixed, Value: "0"}}
			},
			wantField: "actions[0]",
		},
		{
			name: "invalid buy x get y",
			modify: func(s *Spec) {
				s.Actions = []ActionSpec{{Type: ActionBuyXGetY, Value: `{"buy_quantity":-1,"get_quantity":1}`}}
			},
			wantField: "actions[0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(t, store)
			spec := validSpec()
			tt.modify(&spec)

			_, err := svc.Create(context.Background(), testTenant, spec)
			var specErr *InvalidSpecError
			require.ErrorAs(t, err, &specErr)
			assert.Equal(t, tt.wantField, specErr.Field)
			assert.Empty(t, store.promos)
		})
	}
}

func TestService_CreateUnknownRuleTypeWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	svc := newTestService(t, newMemStore(), WithLogger(zap.New(core)))

	spec := validSpec()
	spec.Rules = append(spec.Rules, RuleSpec{Type: "LOYALTY_TIER", Operator: OpEQ, Value: "gold"})
	p, err := svc.Create(context.Background(), testTenant, spec)
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("rule_type", "LOYALTY_TIER")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, p.ID, entries[0].ContextMap()["promotion_id"])
}

func TestService_RequiresTenant(t *testing.T) {
	svc := newTestService(t, newMemStore())
	ctx := context.Background()

	_, err := svc.Create(ctx, "", validSpec())
	assert.ErrorIs(t, err, ErrTenantRequired)
	_, err = svc.List(ctx, "", ListFilter{})
	assert.ErrorIs(t, err, ErrTenantRequired)
	_, err = svc.Get(ctx, "", "id")
	assert.ErrorIs(t, err, ErrTenantRequired)
	_, err = svc.ToggleActive(ctx, "", "id")
	assert.ErrorIs(t, err, ErrTenantRequired)
	assert.ErrorIs(t, svc.Remove(ctx, "", "id"), ErrTenantRequired)
	_, err = svc.ListAvailable(ctx, "", nil)
	assert.ErrorIs(t, err, ErrTenantRequired)
	_, err = svc.Validate(ctx, "", "CODE", Cart{})
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestService_List(t *testing.T) {
	store := newMemStore()
	for i, name := range []string{"Summer sale", "Winter sale", "Welcome", "Summer gift"} {
		p := newTestPromotion(string(rune('a'+i)), "", nil, nil)
		p.Name = name
		p.IsActive = i%2 == 0
		p.CreatedAt = testNow.Add(time.Duration(i) * time.Minute)
		store.put(p)
	}
	other := newTestPromotion("z", "", nil, nil)
	other.TenantID = "tenant-2"
	store.put(other)
	svc := newTestService(t, store)

	page, err := svc.List(context.Background(), testTenant, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultListLimit, page.Limit)
	require.Len(t, page.Items, 4)
	assert.Equal(t, "Summer gift", page.Items[0].Name, "newest first")

	page, err = svc.List(context.Background(), testTenant, ListFilter{Search: "summer"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = svc.List(context.Background(), testTenant, ListFilter{IsActive: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = svc.List(context.Background(), testTenant, ListFilter{Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Items, 1)

	page, err = svc.List(context.Background(), testTenant, ListFilter{Page: -1, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxListLimit, page.Limit)

	page, err = svc.List(context.Background(), testTenant, ListFilter{Page: math.MaxInt, Limit: maxListLimit})
	require.NoError(t, err)
	assert.Equal(t, maxListPage, page.Page)
	assert.Equal(t, 4, page.Total)
	assert.Empty(t, page.Items)
}

func TestService_GetWithRecentUsages(t *testing.T) {
	store := newMemStore(tieredPromotion())
	svc := newTestService(t, store, WithRecentUsages(2))

	for _, order := range []string{"o1", "o2", "o3"} {
		_, err := svc.Apply(context.Background(), testTenant, "TEN", order, Cart{TotalAmount: dec("600000")})
		require.NoError(t, err)
	}

	p, err := svc.Get(context.Background(), testTenant, "promo-tiered")
	require.NoError(t, err)
	assert.Equal(t, 3, p.UsedCount)
	require.Len(t, p.RecentUsages, 2)
	assert.Equal(t, "o3", p.RecentUsages[0].OrderID)
	assert.Equal(t, "o2", p.RecentUsages[1].OrderID)

	_, err = svc.Get(context.Background(), testTenant, "missing")
	require.ErrorIs(t, err, ErrPromotionNotFound)
	_, err = svc.Get(context.Background(), "tenant-2", "promo-tiered")
	require.ErrorIs(t, err, ErrPromotionNotFound)
}

func TestService_Update(t *testing.T) {
	p := tieredPromotion()
	p.UsageLimit = ptr(10)
	p.UsedCount = 4
	store := newMemStore(p)
	svc := newTestService(t, store)

	updated, err := svc.Update(context.Background(), testTenant, p.ID, Patch{
		Name:  ptr("Ten percent"),
		Rules: []RuleSpec{{Type: RuleMinOrderValue, Operator: OpGTE, Value: "1000"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ten percent", updated.Name)
	require.Len(t, updated.Rules, 1)
	assert.Equal(t, "1000", updated.Rules[0].Value)
	assert.Len(t, updated.Actions, 1, "actions are kept when not supplied")
	assert.Equal(t, testNow, updated.UpdatedAt)

	stored, err := svc.Get(context.Background(), testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ten percent", stored.Name)
	assert.Equal(t, 4, stored.UsedCount)

	_, err = svc.Update(context.Background(), testTenant, p.ID, Patch{UsageLimit: ptr(3)})
	require.ErrorIs(t, err, ErrUsageLimitBelowUsed)

	updated, err = svc.Update(context.Background(), testTenant, p.ID, Patch{ClearUsageLimit: true})
	require.NoError(t, err)
	assert.Nil(t, updated.UsageLimit)

	_, err = svc.Update(context.Background(), testTenant, p.ID, Patch{Actions: []ActionSpec{}})
	var specErr *InvalidSpecError
	require.ErrorAs(t, err, &specErr)
	assert.Equal(t, "actions", specErr.Field)

	_, err = svc.Update(context.Background(), testTenant, "missing", Patch{Name: ptr("x")})
	require.ErrorIs(t, err, ErrPromotionNotFound)
}

func TestService_UpdateDuplicateCode(t *testing.T) {
	a := newTestPromotion("a", "ALPHA", []Rule{NewRule(RuleMinOrderValue, OpGTE, "0")}, []Action{NewAction(ActionFreeShipping, "", nil)})
	b := newTestPromotion("b", "BETA", []Rule{NewRule(RuleMinOrderValue, OpGTE, "0")}, []Action{NewAction(ActionFreeShipping, "", nil)})
	svc := newTestService(t, newMemStore(a, b))

	_, err := svc.Update(context.Background(), testTenant, "b", Patch{Code: ptr("alpha")})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestService_ToggleActive(t *testing.T) {
	store := newMemStore(tieredPromotion())
	svc := newTestService(t, store)

	p, err := svc.ToggleActive(context.Background(), testTenant, "promo-tiered")
	require.NoError(t, err)
	assert.False(t, p.IsActive)

	_, err = svc.Validate(context.Background(), testTenant, "TEN", Cart{TotalAmount: dec("1000000")})
	require.ErrorIs(t, err, ErrInactive)

	p, err = svc.ToggleActive(context.Background(), testTenant, "promo-tiered")
	require.NoError(t, err)
	assert.True(t, p.IsActive)

	_, err = svc.ToggleActive(context.Background(), testTenant, "missing")
	require.ErrorIs(t, err, ErrPromotionNotFound)
}

func TestService_Remove(t *testing.T) {
	used := tieredPromotion()
	unused := newTestPromotion("promo-unused", "UNUSED",
		[]Rule{NewRule(RuleMinOrderValue, OpGTE, "0")},
		[]Action{NewAction(ActionDiscountFixed, "1", nil)},
	)
	store := newMemStore(used, unused)
	svc := newTestService(t, store)

	_, err := svc.Apply(context.Background(), testTenant, "TEN", "order-1", Cart{TotalAmount: dec("600000")})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Remove(context.Background(), testTenant, used.ID), ErrHasUsages)

	require.NoError(t, svc.Remove(context.Background(), testTenant, unused.ID))
	_, err = svc.Get(context.Background(), testTenant, unused.ID)
	require.ErrorIs(t, err, ErrPromotionNotFound)
	_, err = svc.Validate(context.Background(), testTenant, "UNUSED", Cart{TotalAmount: dec("10")})
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, svc.Remove(context.Background(), testTenant, unused.ID), ErrPromotionNotFound)
}

func TestService_Stats(t *testing.T) {
	p := tieredPromotion()
	p.UsageLimit = ptr(5)
	p.OncePerCustomer = false
	store := newMemStore(p)
	svc := newTestService(t, store)

	st, err := svc.Stats(context.Background(), testTenant, p.ID)
	require.NoError(t, err)
	assert.Zero(t, st.TotalUsages)
	assert.True(t, st.AverageDiscount.IsZero())
	require.NotNil(t, st.RemainingUsages)
	assert.Equal(t, 5, *st.RemainingUsages)

	for i, total := range []string{"1000000", "600000"} {
		_, err := svc.Apply(context.Background(), testTenant, "TEN", "order-"+string(rune('a'+i)), Cart{TotalAmount: dec(total)})
		require.NoError(t, err)
	}
	p2 := tieredPromotion()
	p2.ID = "promo-other"
	p2.Code = "OTHER"
	store.put(p2)

	st, err = svc.Stats(context.Background(), testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalUsages)
	assert.True(t, dec("40000").Equal(st.TotalDiscount), "got %s", st.TotalDiscount)
	assert.True(t, dec("1600000").Equal(st.TotalOrderAmount))
	assert.True(t, dec("20000").Equal(st.AverageDiscount))
	assert.Equal(t, 3, *st.RemainingUsages)

	unlimited, err := svc.Stats(context.Background(), testTenant, "promo-other")
	require.NoError(t, err)
	assert.Nil(t, unlimited.RemainingUsages)
}

func TestService_ListAvailable(t *testing.T) {
	mk := func(id string, priority int, minTotal string) Promotion {
		p := newTestPromotion(id, "", []Rule{
			NewRule(RuleMinOrderValue, OpGTE, minTotal),
			NewRule(RuleFirstOrder, OpEQ, ""),
		}, []Action{NewAction(ActionFreeShipping, "", nil)})
		p.Priority = priority
		return p
	}
	inactive := mk("inactive", 100, "0")
	inactive.IsActive = false
	expired := mk("expired", 100, "0")
	expired.EndTime = testNow.Add(-time.Minute)
	exhausted := mk("exhausted", 100, "0")
	exhausted.UsageLimit = ptr(1)
	exhausted.UsedCount = 1

	store := newMemStore(mk("low", 1, "0"), mk("high", 10, "500"), mk("mid", 5, "100"), inactive, expired, exhausted)
	svc := newTestService(t, store)

	all, err := svc.ListAvailable(context.Background(), testTenant, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, promotionIDs(all))

	total := decimal.NewFromInt(200)
	affordable, err := svc.ListAvailable(context.Background(), testTenant, &total)
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "low"}, promotionIDs(affordable))
}

func promotionIDs(ps []Promotion) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}
