package promotion

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// RuleType identifies the kind of eligibility condition.
type RuleType string

const (
	RuleMinOrderValue    RuleType = "MIN_ORDER_VALUE"
	RuleMinQuantity      RuleType = "MIN_QUANTITY"
	RuleSpecificCategory RuleType = "SPECIFIC_CATEGORY"
	RuleSpecificProduct  RuleType = "SPECIFIC_PRODUCT"
	RuleCustomerGroup    RuleType = "CUSTOMER_GROUP"
	RuleFirstOrder       RuleType = "FIRST_ORDER"
)

// Known reports whether the engine understands the rule type.
func (t RuleType) Known() bool {
	switch t {
	case RuleMinOrderValue, RuleMinQuantity, RuleSpecificCategory,
		RuleSpecificProduct, RuleCustomerGroup, RuleFirstOrder:
		return true
	default:
		return false
	}
}

// Operator compares a cart attribute with a rule value.
type Operator string

const (
	OpEQ    Operator = "EQ"
	OpGT    Operator = "GT"
	OpGTE   Operator = "GTE"
	OpLT    Operator = "LT"
	OpLTE   Operator = "LTE"
	OpIn    Operator = "IN"
	OpNotIn Operator = "NOT_IN"
)

// Known reports whether op is one of the supported operators.
func (op Operator) Known() bool {
	switch op {
	case OpEQ, OpGT, OpGTE, OpLT, OpLTE, OpIn, OpNotIn:
		return true
	default:
		return false
	}
}

func (op Operator) scalar() bool {
	switch op {
	case OpEQ, OpGT, OpGTE, OpLT, OpLTE:
		return true
	default:
		return false
	}
}

// Rule is one eligibility condition. The raw Value is compiled into a typed
// condition by NewRule, so evaluation never re-parses it.
type Rule struct {
	Type     RuleType
	Operator Operator
	Value    string

	cond condition
}

// NewRule builds a rule and compiles its value.
func NewRule(typ RuleType, op Operator, value string) Rule {
	return Rule{
		Type:     typ,
		Operator: op,
		Value:    value,
		cond:     compileCondition(typ, value),
	}
}

// Err returns the parse error of a known rule type with a malformed value.
func (r Rule) Err() error {
	if m, ok := r.condition().(malformedCondition); ok {
		return m.err
	}
	return nil
}

func (r Rule) condition() condition {
	if r.cond != nil {
		return r.cond
	}
	return compileCondition(r.Type, r.Value)
}

// condition is the compiled form of a rule value.
type condition interface {
	isCondition()
}

type (
	// thresholdCondition backs MIN_ORDER_VALUE and MIN_QUANTITY.
	thresholdCondition struct {
		limit decimal.Decimal
	}
	// idSetCondition backs SPECIFIC_CATEGORY, SPECIFIC_PRODUCT and CUSTOMER_GROUP.
	idSetCondition struct {
		ids map[string]struct{}
	}
	firstOrderCondition struct{}
	// unknownCondition is satisfied vacuously so that promotions configured with
	// newer rule types keep working.
	unknownCondition struct{}
	// malformedCondition always fails.
	malformedCondition struct {
		err error
	}
)

func (thresholdCondition) isCondition()  {}
func (idSetCondition) isCondition()      {}
func (firstOrderCondition) isCondition() {}
func (unknownCondition) isCondition()    {}
func (malformedCondition) isCondition()  {}

func compileCondition(typ RuleType, value string) condition {
	switch typ {
	case RuleMinOrderValue, RuleMinQuantity:
		limit, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return malformedCondition{err: errors.Wrapf(err, "parse %s value", typ)}
		}
		return thresholdCondition{limit: limit}
	case RuleSpecificCategory, RuleSpecificProduct, RuleCustomerGroup:
		ids, err := parseIDList(value)
		if err != nil {
			return malformedCondition{err: errors.Wrapf(err, "parse %s value", typ)}
		}
		return idSetCondition{ids: ids}
	case RuleFirstOrder:
		return firstOrderCondition{}
	default:
		return unknownCondition{}
	}
}

// parseIDList decodes a JSON array of string or numeric identifiers.
func parseIDList(raw string) (map[string]struct{}, error) {
	d := jx.DecodeStr(raw)
	list, err := decodeIDs(d)
	if err != nil {
		return nil, err
	}
	if err := decodeEnd(d); err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(list))
	for _, id := range list {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func compareDecimal(subject decimal.Decimal, op Operator, limit decimal.Decimal) bool {
	switch op {
	case OpEQ:
		return subject.Equal(limit)
	case OpGT:
		return subject.GreaterThan(limit)
	case OpGTE:
		return subject.GreaterThanOrEqual(limit)
	case OpLT:
		return subject.LessThan(limit)
	case OpLTE:
		return subject.LessThanOrEqual(limit)
	default:
		return false
	}
}

// matchItems reports whether the line items satisfy an ID-set rule.
// IN needs at least one item in the set, NOT_IN needs a non-empty cart with
// no item in the set.
func matchItems(set idSetCondition, op Operator, typ RuleType, items []LineItem) bool {
	hit := false
	for _, item := range items {
		id := item.ProductID
		if typ == RuleSpecificCategory {
			id = item.CategoryID
		}
		if _, ok := set.ids[id]; ok {
			hit = true
			break
		}
	}
	switch op {
	case OpIn:
		return hit
	case OpNotIn:
		return len(items) > 0 && !hit
	default:
		return false
	}
}

// matchGroup fails closed when the cart carries no customer group.
func matchGroup(set idSetCondition, op Operator, groupID string) bool {
	if groupID == "" {
		return false
	}
	_, member := set.ids[groupID]
	switch op {
	case OpIn:
		return member
	case OpNotIn:
		return !member
	default:
		return false
	}
}

var operatorPhrases = map[Operator]string{
	OpEQ:  "exactly",
	OpGT:  "more than",
	OpGTE: "at least",
	OpLT:  "less than",
	OpLTE: "at most",
}

// failureMessage renders a user-facing explanation for a failed rule.
func failureMessage(r Rule) string {
	if _, ok := r.condition().(malformedCondition); ok {
		return "promotion is misconfigured"
	}
	switch r.Type {
	case RuleMinOrderValue:
		if phrase, ok := operatorPhrases[r.Operator]; ok {
			return fmt.Sprintf("order total must be %s %s", phrase, strings.TrimSpace(r.Value))
		}
		return "order total does not qualify"
	case RuleMinQuantity:
		if phrase, ok := operatorPhrases[r.Operator]; ok {
			return fmt.Sprintf("item quantity must be %s %s", phrase, strings.TrimSpace(r.Value))
		}
		return "item quantity does not qualify"
	case RuleSpecificCategory:
		if r.Operator == OpNotIn {
			return "cart contains items from excluded categories"
		}
		return "cart must contain an item from an eligible category"
	case RuleSpecificProduct:
		if r.Operator == OpNotIn {
			return "cart contains excluded products"
		}
		return "cart must contain an eligible product"
	case RuleCustomerGroup:
		return "promotion is not available for your customer group"
	case RuleFirstOrder:
		return "promotion is only available on your first order"
	default:
		return "cart does not qualify"
	}
}
