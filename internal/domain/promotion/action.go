package promotion

import (
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ActionType identifies the kind of discount effect.
type ActionType string

const (
	ActionDiscountFixed   ActionType = "DISCOUNT_FIXED"
	ActionDiscountPercent ActionType = "DISCOUNT_PERCENT"
	ActionFreeShipping    ActionType = "FREE_SHIPPING"
	ActionGift            ActionType = "GIFT"
	ActionBuyXGetY        ActionType = "BUY_X_GET_Y"
)

// Known reports whether the engine understands the action type.
func (t ActionType) Known() bool {
	switch t {
	case ActionDiscountFixed, ActionDiscountPercent, ActionFreeShipping, ActionGift, ActionBuyXGetY:
		return true
	default:
		return false
	}
}

// Action is one discount effect. Like Rule, its raw Value is compiled once.
type Action struct {
	Type              ActionType
	Value             string
	MaxDiscountAmount *decimal.Decimal

	eff effect
}

// NewAction builds an action and compiles its value.
func NewAction(typ ActionType, value string, maxDiscount *decimal.Decimal) Action {
	return Action{
		Type:              typ,
		Value:             value,
		MaxDiscountAmount: maxDiscount,
		eff:               compileEffect(typ, value, maxDiscount),
	}
}

// Err returns the parse error of an action whose value cannot be used.
func (a Action) Err() error {
	if m, ok := a.effect().(malformedEffect); ok {
		return m.err
	}
	return nil
}

func (a Action) effect() effect {
	if a.eff != nil {
		return a.eff
	}
	return compileEffect(a.Type, a.Value, a.MaxDiscountAmount)
}

// BuyXGetY is the configuration of a BUY_X_GET_Y action.
type BuyXGetY struct {
	BuyQuantity int
	GetQuantity int
	ProductIDs  []string
}

type effect interface {
	isEffect()
}

type (
	fixedEffect struct {
		amount decimal.Decimal
	}
	percentEffect struct {
		percent decimal.Decimal
		cap     *decimal.Decimal
	}
	freeShippingEffect struct{}
	giftEffect         struct {
		skuID string
	}
	buyXGetYEffect struct {
		cfg BuyXGetY
	}
	// malformedEffect contributes nothing.
	malformedEffect struct {
		err error
	}
)

func (fixedEffect) isEffect()        {}
func (percentEffect) isEffect()      {}
func (freeShippingEffect) isEffect() {}
func (giftEffect) isEffect()         {}
func (buyXGetYEffect) isEffect()     {}
func (malformedEffect) isEffect()    {}

func compileEffect(typ ActionType, value string, maxDiscount *decimal.Decimal) effect {
	switch typ {
	case ActionDiscountFixed:
		amount, err := parseNonNegative(value)
		if err != nil {
			return malformedEffect{err: errors.Wrapf(err, "parse %s value", typ)}
		}
		return fixedEffect{amount: amount}
	case ActionDiscountPercent:
		percent, err := parseNonNegative(value)
		if err != nil {
			return malformedEffect{err: errors.Wrapf(err, "parse %s value", typ)}
		}
		if maxDiscount != nil && maxDiscount.IsNegative() {
			return malformedEffect{err: errors.New("max discount amount is negative")}
		}
		return percentEffect{percent: percent, cap: maxDiscount}
	case ActionFreeShipping:
		return freeShippingEffect{}
	case ActionGift:
		sku := strings.TrimSpace(value)
		if sku == "" {
			return malformedEffect{err: errors.New("gift sku id is empty")}
		}
		return giftEffect{skuID: sku}
	case ActionBuyXGetY:
		cfg, err := parseBuyXGetY(value)
		if err != nil {
			return malformedEffect{err: errors.Wrapf(err, "parse %s value", typ)}
		}
		return buyXGetYEffect{cfg: cfg}
	default:
		return malformedEffect{err: errors.Errorf("unsupported action type %q", typ)}
	}
}

func parseNonNegative(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("negative value %s", d)
	}
	return d, nil
}

// parseBuyXGetY decodes {"buy_quantity":N,"get_quantity":M,"product_ids":[...]}.
func parseBuyXGetY(raw string) (BuyXGetY, error) {
	var cfg BuyXGetY
	d := jx.DecodeStr(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "buy_quantity":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "buy_quantity")
			}
			cfg.BuyQuantity = v
		case "get_quantity":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "get_quantity")
			}
			cfg.GetQuantity = v
		case "product_ids":
			ids, err := decodeIDs(d)
			if err != nil {
				return errors.Wrap(err, "product_ids")
			}
			cfg.ProductIDs = ids
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return BuyXGetY{}, err
	}
	if err := decodeEnd(d); err != nil {
		return BuyXGetY{}, err
	}
	if cfg.BuyQuantity <= 0 || cfg.GetQuantity <= 0 {
		return BuyXGetY{}, errors.New("buy_quantity and get_quantity must be positive")
	}
	return cfg, nil
}

func decodeIDs(d *jx.Decoder) ([]string, error) {
	var ids []string
	err := d.Arr(func(d *jx.Decoder) error {
		switch tt := d.Next(); tt {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			ids = append(ids, s)
		case jx.Number:
			n, err := d.Num()
			if err != nil {
				return err
			}
			ids = append(ids, n.String())
		default:
			return errors.Errorf("unexpected %s in id list", tt)
		}
		return nil
	})
	return ids, err
}

// decodeEnd fails unless only whitespace follows the decoded value.
func decodeEnd(d *jx.Decoder) error {
	switch err := d.Skip(); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return errors.Wrap(err, "trailing data")
	default:
		return errors.New("unexpected trailing value")
	}
}
