// Package wire is the JSON representation of promotions shared by the HTTP
// API and the bulk importer.
//
// Money is accepted as a JSON number or string and always rendered as a
// string with two decimal places. Times are RFC 3339.
package wire

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// FieldError reports a malformed request field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() error { return e.Err }

func field(name string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return &FieldError{Field: name + "." + fe.Field, Err: fe.Err}
	}
	return &FieldError{Field: name, Err: err}
}

// DecodeEnd fails unless only whitespace follows the decoded value.
func DecodeEnd(d *jx.Decoder) error {
	switch err := d.Skip(); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return errors.Wrap(err, "trailing data")
	default:
		return errors.New("unexpected trailing value")
	}
}

// DecodeSpec decodes a promotion definition.
func DecodeSpec(d *jx.Decoder) (promotion.Spec, error) {
	var s promotion.Spec
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			s.Name, err = d.Str()
		case "code":
			s.Code, err = optStr(d)
		case "description":
			s.Description, err = optStr(d)
		case "start_time":
			s.StartTime, err = decodeTime(d)
		case "end_time":
			s.EndTime, err = decodeTime(d)
		case "is_active":
			s.IsActive, err = optBool(d)
		case "priority":
			s.Priority, err = d.Int()
		case "usage_limit":
			s.UsageLimit, err = optInt(d)
		case "once_per_customer":
			s.OncePerCustomer, err = optBool(d)
		case "rules":
			s.Rules, err = decodeRules(d)
		case "actions":
			s.Actions, err = decodeActions(d)
		default:
			return d.Skip()
		}
		return field(key, err)
	})
	return s, err
}

// DecodePatch decodes a partial update. A null usage_limit removes the
// limit.
func DecodePatch(d *jx.Decoder) (promotion.Patch, error) {
	var p promotion.Patch
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			p.Name, err = ptrStr(d)
		case "code":
			p.Code, err = ptrStr(d)
		case "description":
			p.Description, err = ptrStr(d)
		case "start_time":
			var t time.Time
			if t, err = decodeTime(d); err == nil {
				p.StartTime = &t
			}
		case "end_time":
			var t time.Time
			if t, err = decodeTime(d); err == nil {
				p.EndTime = &t
			}
		case "is_active":
			p.IsActive, err = optBool(d)
		case "priority":
			var n int
			if n, err = d.Int(); err == nil {
				p.Priority = &n
			}
		case "usage_limit":
			p.UsageLimit, err = optInt(d)
			p.ClearUsageLimit = err == nil && p.UsageLimit == nil
		case "once_per_customer":
			p.OncePerCustomer, err = optBool(d)
		case "rules":
			if p.Rules, err = decodeRules(d); err == nil && p.Rules == nil {
				p.Rules = []promotion.RuleSpec{}
			}
		case "actions":
			if p.Actions, err = decodeActions(d); err == nil && p.Actions == nil {
				p.Actions = []promotion.ActionSpec{}
			}
		default:
			return d.Skip()
		}
		return field(key, err)
	})
	return p, err
}

func decodeRules(d *jx.Decoder) ([]promotion.RuleSpec, error) {
	var rules []promotion.RuleSpec
	err := d.Arr(func(d *jx.Decoder) error {
		var r promotion.RuleSpec
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "type":
				var s string
				s, err = d.Str()
				r.Type = promotion.RuleType(s)
			case "operator":
				var s string
				s, err = d.Str()
				r.Operator = promotion.Operator(s)
			case "value":
				r.Value, err = decodeValue(d)
			default:
				return d.Skip()
			}
			return field(key, err)
		}); err != nil {
			return errors.Wrapf(err, "rule %d", len(rules))
		}
		rules = append(rules, r)
		return nil
	})
	return rules, err
}

func decodeActions(d *jx.Decoder) ([]promotion.ActionSpec, error) {
	var actions []promotion.ActionSpec
	err := d.Arr(func(d *jx.Decoder) error {
		var a promotion.ActionSpec
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "type":
				var s string
				s, err = d.Str()
				a.Type = promotion.ActionType(s)
			case "value":
				a.Value, err = decodeValue(d)
			case "max_discount_amount":
				a.MaxDiscountAmount, err = optDecimal(d)
			default:
				return d.Skip()
			}
			return field(key, err)
		}); err != nil {
			return errors.Wrapf(err, "action %d", len(actions))
		}
		actions = append(actions, a)
		return nil
	})
	return actions, err
}

// decodeValue keeps rule and action values as text. Structured values such
// as id lists may be sent either as JSON text or inline.
func decodeValue(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Null:
		return "", d.Null()
	default:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// DecodeCart decodes the cart submitted for validation.
func DecodeCart(d *jx.Decoder) (promotion.Cart, error) {
	var c promotion.Cart
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "total_amount":
			c.TotalAmount, err = decodeDecimal(d)
		case "user_id":
			c.UserID, err = optStr(d)
		case "customer_group_id":
			c.CustomerGroupID, err = optStr(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeLineItem(d)
				if err != nil {
					return errors.Wrapf(err, "item %d", len(c.Items))
				}
				c.Items = append(c.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
		return field(key, err)
	})
	return c, err
}

func decodeLineItem(d *jx.Decoder) (promotion.LineItem, error) {
	var item promotion.LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "sku_id":
			item.SKUID, err = optStr(d)
		case "product_id":
			item.ProductID, err = optStr(d)
		case "category_id":
			item.CategoryID, err = optStr(d)
		case "quantity":
			item.Quantity, err = d.Int()
		case "unit_price":
			item.UnitPrice, err = decodeDecimal(d)
		default:
			return d.Skip()
		}
		return field(key, err)
	})
	return item, err
}

// CodeRequest is the body of validate and apply calls.
type CodeRequest struct {
	Code    string
	OrderID string
	Cart    promotion.Cart
}

// DecodeCodeRequest decodes {"code":..,"order_id":..,"cart":{..}}.
func DecodeCodeRequest(d *jx.Decoder) (CodeRequest, error) {
	var r CodeRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			r.Code, err = optStr(d)
		case "order_id":
			r.OrderID, err = optStr(d)
		case "cart":
			r.Cart, err = DecodeCart(d)
		default:
			return d.Skip()
		}
		return field(key, err)
	})
	return r, err
}

// ParseDecimal parses a money amount.
func ParseDecimal(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return ParseDecimal(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return ParseDecimal(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("expected amount, got %s", tt)
	}
}

func optDecimal(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid time %q", s)
	}
	return t, nil
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func ptrStr(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func optBool(d *jx.Decoder) (*bool, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	b, err := d.Bool()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func optInt(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &n, nil
}
