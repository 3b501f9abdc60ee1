package promotion

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory Repository. Transactions apply the conditional
// increment immediately under the store lock and undo it on rollback. Usage
// inserts reserve their (promotion, user) key until commit, which mirrors the
// blocking behaviour of a unique index.
type memStore struct {
	mu       sync.Mutex
	promos   map[string]*Promotion
	deleted  map[string]bool
	usages   []Usage
	reserved map[string]bool

	findErr error
}

func newMemStore(promos ...Promotion) *memStore {
	s := &memStore{
		promos:   make(map[string]*Promotion),
		deleted:  make(map[string]bool),
		reserved: make(map[string]bool),
	}
	for i := range promos {
		s.put(promos[i])
	}
	return s
}

func (s *memStore) put(p Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promos[p.ID] = &p
}

func (s *memStore) usedCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promos[id].UsedCount
}

func (s *memStore) usageRows(promotionID string) []Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Usage
	for _, u := range s.usages {
		if u.PromotionID == promotionID {
			out = append(out, u)
		}
	}
	return out
}

func usageKey(promotionID, userID string) string {
	return promotionID + "|" + userID
}

func (s *memStore) FindByCode(_ context.Context, tenantID, code string) (*Promotion, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.promos {
		if p.TenantID == tenantID && p.Code != "" && p.Code == code && !s.deleted[id] {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPromotionNotFound
}

func (s *memStore) HasUsage(_ context.Context, tenantID, promotionID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.usages {
		if u.TenantID == tenantID && u.PromotionID == promotionID && u.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (s *memStore) Create(_ context.Context, p *Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, other := range s.promos {
		if p.Code != "" && other.TenantID == p.TenantID && other.Code == p.Code && !s.deleted[id] {
			return ErrDuplicateCode
		}
	}
	cp := *p
	s.promos[p.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, tenantID, id string) (*Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[id]
	if !ok || p.TenantID != tenantID || s.deleted[id] {
		return nil, ErrPromotionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) List(_ context.Context, tenantID string, f ListFilter) ([]Promotion, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search := strings.ToLower(f.Search)
	var all []Promotion
	for id, p := range s.promos {
		if p.TenantID != tenantID || s.deleted[id] {
			continue
		}
		if f.IsActive != nil && p.IsActive != *f.IsActive {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Code), search) {
			continue
		}
		all = append(all, *p)
	}
	slices.SortFunc(all, func(a, b Promotion) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	from := min((f.Page-1)*f.Limit, len(all))
	to := min(from+f.Limit, len(all))
	return all[from:to], len(all), nil
}

func (s *memStore) Update(_ context.Context, p *Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.promos[p.ID]
	if !ok || cur.TenantID != p.TenantID || s.deleted[p.ID] {
		return ErrPromotionNotFound
	}
	for id, other := range s.promos {
		if id != p.ID && p.Code != "" && other.TenantID == p.TenantID && other.Code == p.Code && !s.deleted[id] {
			return ErrDuplicateCode
		}
	}
	if p.UsageLimit != nil && cur.UsedCount > *p.UsageLimit {
		return ErrUsageLimitBelowUsed
	}
	cp := *p
	cp.UsedCount = cur.UsedCount
	s.promos[p.ID] = &cp
	return nil
}

func (s *memStore) ToggleActive(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[id]
	if !ok || p.TenantID != tenantID || s.deleted[id] {
		return ErrPromotionNotFound
	}
	p.IsActive = !p.IsActive
	return nil
}

func (s *memStore) SoftDelete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[id]
	if !ok || p.TenantID != tenantID || s.deleted[id] {
		return ErrPromotionNotFound
	}
	for _, u := range s.usages {
		if u.PromotionID == id {
			return ErrHasUsages
		}
	}
	s.deleted[id] = true
	return nil
}

func (s *memStore) ListAvailable(_ context.Context, tenantID string, now time.Time) ([]Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Promotion
	for id, p := range s.promos {
		if p.TenantID == tenantID && !s.deleted[id] && p.Available(now) {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Promotion) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *memStore) RecentUsages(_ context.Context, tenantID, promotionID string, limit int) ([]Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Usage
	for i := len(s.usages) - 1; i >= 0 && len(out) < limit; i-- {
		u := s.usages[i]
		if u.TenantID == tenantID && u.PromotionID == promotionID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) UsageTotals(_ context.Context, tenantID, promotionID string) (UsageTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := UsageTotals{Discount: decimal.Zero, OrderAmount: decimal.Zero}
	for _, u := range s.usages {
		if u.TenantID == tenantID && u.PromotionID == promotionID {
			t.Count++
			t.Discount = t.Discount.Add(u.DiscountAmount)
			t.OrderAmount = t.OrderAmount.Add(u.OrderAmount)
		}
	}
	return t, nil
}

type memTx struct {
	store       *memStore
	incremented []string
	keys        []string
	pending     []Usage
}

func (tx *memTx) FindByCode(ctx context.Context, tenantID, code string) (*Promotion, error) {
	return tx.store.FindByCode(ctx, tenantID, code)
}

func (tx *memTx) HasUsage(ctx context.Context, tenantID, promotionID, userID string) (bool, error) {
	return tx.store.HasUsage(ctx, tenantID, promotionID, userID)
}

func (tx *memTx) IncrementUsage(_ context.Context, tenantID, promotionID string) (bool, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[promotionID]
	if !ok || p.TenantID != tenantID || p.Exhausted() {
		return false, nil
	}
	p.UsedCount++
	tx.incremented = append(tx.incremented, promotionID)
	return true, nil
}

func (tx *memTx) InsertUsage(_ context.Context, u *Usage) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.promos[u.PromotionID]
	if p.OncePerCustomer && u.UserID != "" {
		key := usageKey(u.PromotionID, u.UserID)
		if s.reserved[key] {
			return ErrDuplicateUsage
		}
		for _, existing := range s.usages {
			if existing.PromotionID == u.PromotionID && existing.UserID == u.UserID {
				return ErrDuplicateUsage
			}
		}
		s.reserved[key] = true
		tx.keys = append(tx.keys, key)
	}
	tx.pending = append(tx.pending, *u)
	return nil
}

func (tx *memTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usages = append(s.usages, tx.pending...)
	for _, k := range tx.keys {
		delete(s.reserved, k)
	}
}

func (tx *memTx) rollback() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.incremented {
		s.promos[id].UsedCount--
	}
	for _, k := range tx.keys {
		delete(s.reserved, k)
	}
}

type mockOrderHistory struct {
	counts map[string]int
	err    error
	calls  int
	mu     sync.Mutex
}

func (m *mockOrderHistory) CountNonCancelledOrders(_ context.Context, tenantID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[tenantID+"|"+userID], nil
}

// --- Helpers ---

var (
	testNow    = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	testTenant = "tenant-1"
)

func fixedClock() time.Time { return testNow }

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestPromotion returns an active code promotion valid around testNow.
func newTestPromotion(id, code string, rules []Rule, actions []Action) Promotion {
	return Promotion{
		ID:              id,
		TenantID:        testTenant,
		Name:            "Promotion " + id,
		Code:            code,
		StartTime:       testNow.Add(-24 * time.Hour),
		EndTime:         testNow.Add(24 * time.Hour),
		IsActive:        true,
		OncePerCustomer: code != "",
		Rules:           rules,
		Actions:         actions,
		CreatedAt:       testNow.Add(-48 * time.Hour),
	}
}
