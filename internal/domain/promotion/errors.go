package promotion

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Reason classifies why a promotion was rejected for a cart.
type Reason string

const (
	ReasonNotFound      Reason = "NOT_FOUND"
	ReasonInactive      Reason = "INACTIVE"
	ReasonNotYetStarted Reason = "NOT_YET_STARTED"
	ReasonExpired       Reason = "EXPIRED"
	ReasonLimitReached  Reason = "LIMIT_REACHED"
	ReasonAlreadyUsed   Reason = "ALREADY_USED"
	ReasonRuleFailed    Reason = "RULE_FAILED"
)

// Rejection is an expected business outcome of Validate or Apply. It carries
// enough structure to render a precise message to the customer.
type Rejection struct {
	Reason   Reason
	RuleType RuleType // set for RULE_FAILED only
	Message  string
}

func (r *Rejection) Error() string {
	if r.RuleType != "" {
		return fmt.Sprintf("promotion rejected: %s(%s): %s", r.Reason, r.RuleType, r.Message)
	}
	return fmt.Sprintf("promotion rejected: %s: %s", r.Reason, r.Message)
}

// Is matches rejections by reason, and by rule type when the target sets one.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	if !ok {
		return false
	}
	return t.Reason == r.Reason && (t.RuleType == "" || t.RuleType == r.RuleType)
}

// Sentinels for errors.Is matching against rejections.
var (
	ErrNotFound      = &Rejection{Reason: ReasonNotFound, Message: "promotion code not found"}
	ErrInactive      = &Rejection{Reason: ReasonInactive, Message: "promotion is not active"}
	ErrNotYetStarted = &Rejection{Reason: ReasonNotYetStarted, Message: "promotion has not started yet"}
	ErrExpired       = &Rejection{Reason: ReasonExpired, Message: "promotion has expired"}
	ErrLimitReached  = &Rejection{Reason: ReasonLimitReached, Message: "promotion usage limit reached"}
	ErrAlreadyUsed   = &Rejection{Reason: ReasonAlreadyUsed, Message: "promotion already used by this customer"}
	ErrRuleFailed    = &Rejection{Reason: ReasonRuleFailed, Message: "cart does not qualify"}
)

func reject(sentinel *Rejection) *Rejection {
	r := *sentinel
	return &r
}

func ruleFailed(r Rule) *Rejection {
	return &Rejection{
		Reason:   ReasonRuleFailed,
		RuleType: r.Type,
		Message:  failureMessage(r),
	}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

var (
	// ErrTenantRequired means the engine was invoked without tenant scoping.
	// It is a programming error, not a rejection.
	ErrTenantRequired = errors.New("tenant id is required")
	// ErrOrderRequired is returned by Apply when no order id is given.
	ErrOrderRequired = errors.New("order id is required")
	// ErrPromotionNotFound is returned by lookups of unknown promotions.
	ErrPromotionNotFound = errors.New("promotion not found")
	// ErrDuplicateCode is returned when a code is already taken in the tenant.
	ErrDuplicateCode = errors.New("promotion code already exists")
	// ErrHasUsages blocks removal of promotions that were ever used.
	ErrHasUsages = errors.New("promotion has usages, deactivate it instead")
	// ErrDuplicateUsage is returned by the store when a once-per-customer
	// promotion already has a usage for the user.
	ErrDuplicateUsage = errors.New("usage already recorded for customer")
	// ErrUsageLimitBelowUsed is returned when an update would set the usage
	// limit below the current used count.
	ErrUsageLimitBelowUsed = errors.New("usage limit is below used count")
)

// InvalidSpecError reports an unusable promotion definition.
type InvalidSpecError struct {
	Field  string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid promotion %s: %s", e.Field, e.Reason)
}
