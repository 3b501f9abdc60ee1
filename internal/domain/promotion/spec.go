package promotion

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RuleSpec is the raw definition of a rule as supplied by an administrator.
type RuleSpec struct {
	Type     RuleType
	Operator Operator
	Value    string
}

// ActionSpec is the raw definition of an action.
type ActionSpec struct {
	Type              ActionType
	Value             string
	MaxDiscountAmount *decimal.Decimal
}

// Spec is the input of Service.Create.
type Spec struct {
	Name        string
	Code        string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	// IsActive defaults to true.
	IsActive   *bool
	Priority   int
	UsageLimit *int
	// OncePerCustomer defaults to true for code promotions and false for
	// auto-applied ones.
	OncePerCustomer *bool
	Rules           []RuleSpec
	Actions         []ActionSpec
}

// Patch is the input of Service.Update. Nil fields are left unchanged; Rules
// and Actions replace the stored lists wholesale when non-nil.
type Patch struct {
	Name            *string
	Code            *string
	Description     *string
	StartTime       *time.Time
	EndTime         *time.Time
	IsActive        *bool
	Priority        *int
	UsageLimit      *int
	ClearUsageLimit bool
	OncePerCustomer *bool
	Rules           []RuleSpec
	Actions         []ActionSpec
}

// build turns a spec into an unsaved promotion.
func (s Spec) build() *Promotion {
	p := &Promotion{
		Name:        strings.TrimSpace(s.Name),
		Code:        NormalizeCode(s.Code),
		Description: s.Description,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		IsActive:    true,
		Priority:    s.Priority,
		UsageLimit:  s.UsageLimit,
		Rules:       buildRules(s.Rules),
		Actions:     buildActions(s.Actions),
	}
	if s.IsActive != nil {
		p.IsActive = *s.IsActive
	}
	p.OncePerCustomer = p.Code != ""
	if s.OncePerCustomer != nil {
		p.OncePerCustomer = *s.OncePerCustomer
	}
	return p
}

// apply merges the patch into a copy of p.
func (pt Patch) apply(p Promotion) *Promotion {
	if pt.Name != nil {
		p.Name = strings.TrimSpace(*pt.Name)
	}
	if pt.Code != nil {
		p.Code = NormalizeCode(*pt.Code)
	}
	if pt.Description != nil {
		p.Description = *pt.Description
	}
	if pt.StartTime != nil {
		p.StartTime = *pt.StartTime
	}
	if pt.EndTime != nil {
		p.EndTime = *pt.EndTime
	}
	if pt.IsActive != nil {
		p.IsActive = *pt.IsActive
	}
	if pt.Priority != nil {
		p.Priority = *pt.Priority
	}
	switch {
	case pt.ClearUsageLimit:
		p.UsageLimit = nil
	case pt.UsageLimit != nil:
		limit := *pt.UsageLimit
		p.UsageLimit = &limit
	}
	if pt.OncePerCustomer != nil {
		p.OncePerCustomer = *pt.OncePerCustomer
	}
	if pt.Rules != nil {
		p.Rules = buildRules(pt.Rules)
	}
	if pt.Actions != nil {
		p.Actions = buildActions(pt.Actions)
	}
	p.RecentUsages = nil
	return &p
}

func buildRules(specs []RuleSpec) []Rule {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		rules = append(rules, NewRule(s.Type, s.Operator, strings.TrimSpace(s.Value)))
	}
	return rules
}

func buildActions(specs []ActionSpec) []Action {
	actions := make([]Action, 0, len(specs))
	for _, s := range specs {
		actions = append(actions, NewAction(s.Type, strings.TrimSpace(s.Value), roundCap(s.MaxDiscountAmount)))
	}
	return actions
}

// roundCap rounds a discount cap to the two decimal places it is stored with.
func roundCap(c *decimal.Decimal) *decimal.Decimal {
	if c == nil {
		return nil
	}
	v := c.Round(2)
	return &v
}

// check validates a promotion before it is stored.
func check(p *Promotion) error {
	if p.Name == "" {
		return &InvalidSpecError{Field: "name", Reason: "is required"}
	}
	if p.StartTime.IsZero() || p.EndTime.IsZero() {
		return &InvalidSpecError{Field: "start_time", Reason: "start and end time are required"}
	}
	if !p.StartTime.Before(p.EndTime) {
		return &InvalidSpecError{Field: "end_time", Reason: "must be after start time"}
	}
	if p.UsageLimit != nil && *p.UsageLimit < 0 {
		return &InvalidSpecError{Field: "usage_limit", Reason: "must not be negative"}
	}
	if p.UsageLimit != nil && *p.UsageLimit > math.MaxInt32 {
		return &InvalidSpecError{Field: "usage_limit", Reason: fmt.Sprintf("must not exceed %d", math.MaxInt32)}
	}
	if p.Priority < math.MinInt32 || p.Priority > math.MaxInt32 {
		return &InvalidSpecError{Field: "priority", Reason: "out of range"}
	}
	if len(p.Rules) == 0 {
		return &InvalidSpecError{Field: "rules", Reason: "at least one rule is required"}
	}
	if len(p.Actions) == 0 {
		return &InvalidSpecError{Field: "actions", Reason: "at least one action is required"}
	}
	for i, r := range p.Rules {
		if err := checkRule(r); err != nil {
			return &InvalidSpecError{Field: fmt.Sprintf("rules[%d]", i), Reason: err.Error()}
		}
	}
	for i, a := range p.Actions {
		if err := checkAction(a); err != nil {
			return &InvalidSpecError{Field: fmt.Sprintf("actions[%d]", i), Reason: err.Error()}
		}
	}
	return nil
}

func checkRule(r Rule) error {
	if r.Type == "" {
		return errors.New("type is required")
	}
	if !r.Operator.Known() {
		return errors.Errorf("unknown operator %q", r.Operator)
	}
	if !r.Type.Known() {
		// Accepted as is, evaluated as passing.
		return nil
	}
	switch r.Type {
	case RuleMinOrderValue, RuleMinQuantity:
		if !r.Operator.scalar() {
			return errors.Errorf("operator %s is not valid for %s", r.Operator, r.Type)
		}
	case RuleSpecificCategory, RuleSpecificProduct, RuleCustomerGroup:
		if r.Operator.scalar() {
			return errors.Errorf("operator %s is not valid for %s", r.Operator, r.Type)
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	return nil
}

func checkAction(a Action) error {
	if !a.Type.Known() {
		return errors.Errorf("unknown action type %q", a.Type)
	}
	if err := a.Err(); err != nil {
		return err
	}
	switch e := a.effect().(type) {
	case fixedEffect:
		if !e.amount.IsPositive() {
			return errors.New("fixed discount must be positive")
		}
	case percentEffect:
		if !e.percent.IsPositive() || e.percent.GreaterThan(hundred) {
			return errors.New("percent must be in (0, 100]")
		}
	}
	return nil
}
