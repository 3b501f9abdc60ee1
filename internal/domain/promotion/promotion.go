// Package promotion implements the promotion rule-action evaluation engine:
// eligibility rules, discount actions, validation, usage-limited application
// and the admin operations around them.
//
// Every operation is scoped by an explicit tenant id. There is no ambient
// tenant lookup inside the engine.
package promotion

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Promotion is a named discount campaign owned by a tenant.
type Promotion struct {
	ID          string
	TenantID    string
	Name        string
	Code        string // empty for auto-applied promotions
	Description string
	StartTime   time.Time
	EndTime     time.Time
	IsActive    bool
	Priority    int
	UsageLimit  *int // nil means unlimited
	UsedCount   int
	// OncePerCustomer limits each user to a single usage.
	OncePerCustomer bool
	Rules           []Rule
	Actions         []Action
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// RecentUsages is only populated by Service.Get.
	RecentUsages []Usage
}

// AutoApplied reports whether the promotion is applied without a code.
func (p *Promotion) AutoApplied() bool {
	return p.Code == ""
}

// Exhausted reports whether the global usage limit has been consumed.
func (p *Promotion) Exhausted() bool {
	return p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit
}

// InWindow reports whether now lies within [StartTime, EndTime].
func (p *Promotion) InWindow(now time.Time) bool {
	return !now.Before(p.StartTime) && !now.After(p.EndTime)
}

// Available reports whether the promotion can currently be offered.
func (p *Promotion) Available(now time.Time) bool {
	return p.IsActive && p.InWindow(now) && !p.Exhausted()
}

// Usage is an immutable record that an order consumed a promotion.
type Usage struct {
	ID             string
	PromotionID    string
	TenantID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	OrderAmount    decimal.Decimal
	CreatedAt      time.Time
}

// LineItem is one cart line used for rule evaluation.
type LineItem struct {
	SKUID      string
	ProductID  string
	CategoryID string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// Cart is the transient input to evaluation. UserID and CustomerGroupID are
// empty for anonymous carts.
type Cart struct {
	TotalAmount     decimal.Decimal
	UserID          string
	CustomerGroupID string
	Items           []LineItem
}

// TotalQuantity returns the sum of quantities across all line items.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// Outcome is the combined effect of a promotion's actions.
type Outcome struct {
	DiscountAmount decimal.Decimal
	FreeShipping   bool
	GiftSKUIDs     []string
}

// ValidationResult describes a promotion that is valid for a cart.
type ValidationResult struct {
	PromotionID   string
	PromotionName string
	Outcome
}

// ApplyResult is a committed application of a promotion.
type ApplyResult struct {
	ValidationResult
	UsageID string
}

// UsageTotals aggregates the usage records of a promotion.
type UsageTotals struct {
	Count       int
	Discount    decimal.Decimal
	OrderAmount decimal.Decimal
}

// Stats summarizes how a promotion has been used.
type Stats struct {
	TotalUsages      int
	TotalDiscount    decimal.Decimal
	TotalOrderAmount decimal.Decimal
	RemainingUsages  *int // nil when unlimited
	AverageDiscount  decimal.Decimal
}

// ListFilter selects promotions for the admin listing.
type ListFilter struct {
	IsActive *bool
	Search   string
	Page     int
	Limit    int
}

// Page is one page of the admin listing.
type Page struct {
	Items []Promotion
	Total int
	Page  int
	Limit int
}

// NormalizeCode canonicalizes a promotion code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
