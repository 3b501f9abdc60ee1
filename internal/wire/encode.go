package wire

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.StringFixed(2))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func strField(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

// EncodePromotion writes p including its rules, actions and, when loaded,
// recent usages.
func EncodePromotion(e *jx.Encoder, p *promotion.Promotion) {
	e.ObjStart()
	strField(e, "id", p.ID)
	strField(e, "name", p.Name)
	e.FieldStart("code")
	if p.AutoApplied() {
		e.Null()
	} else {
		e.Str(p.Code)
	}
	strField(e, "description", p.Description)
	e.FieldStart("start_time")
	timestamp(e, p.StartTime)
	e.FieldStart("end_time")
	timestamp(e, p.EndTime)
	e.FieldStart("is_active")
	e.Bool(p.IsActive)
	e.FieldStart("priority")
	e.Int(p.Priority)
	e.FieldStart("usage_limit")
	if p.UsageLimit != nil {
		e.Int(*p.UsageLimit)
	} else {
		e.Null()
	}
	e.FieldStart("used_count")
	e.Int(p.UsedCount)
	e.FieldStart("once_per_customer")
	e.Bool(p.OncePerCustomer)

	e.FieldStart("rules")
	e.ArrStart()
	for _, r := range p.Rules {
		e.ObjStart()
		strField(e, "type", string(r.Type))
		strField(e, "operator", string(r.Operator))
		strField(e, "value", r.Value)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("actions")
	e.ArrStart()
	for _, a := range p.Actions {
		e.ObjStart()
		strField(e, "type", string(a.Type))
		strField(e, "value", a.Value)
		if a.MaxDiscountAmount != nil {
			e.FieldStart("max_discount_amount")
			money(e, *a.MaxDiscountAmount)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	if p.RecentUsages != nil {
		e.FieldStart("recent_usages")
		e.ArrStart()
		for i := range p.RecentUsages {
			encodeUsage(e, &p.RecentUsages[i])
		}
		e.ArrEnd()
	}

	e.FieldStart("created_at")
	timestamp(e, p.CreatedAt)
	e.FieldStart("updated_at")
	timestamp(e, p.UpdatedAt)
	e.ObjEnd()
}

func encodeUsage(e *jx.Encoder, u *promotion.Usage) {
	e.ObjStart()
	strField(e, "id", u.ID)
	strField(e, "order_id", u.OrderID)
	e.FieldStart("user_id")
	if u.UserID == "" {
		e.Null()
	} else {
		e.Str(u.UserID)
	}
	e.FieldStart("discount_amount")
	money(e, u.DiscountAmount)
	e.FieldStart("order_amount")
	money(e, u.OrderAmount)
	e.FieldStart("created_at")
	timestamp(e, u.CreatedAt)
	e.ObjEnd()
}

// EncodePromotions writes {"items":[..]}.
func EncodePromotions(e *jx.Encoder, items []promotion.Promotion) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for i := range items {
		EncodePromotion(e, &items[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}

// EncodePage writes a listing page with its paging metadata.
func EncodePage(e *jx.Encoder, p *promotion.Page) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for i := range p.Items {
		EncodePromotion(e, &p.Items[i])
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Int(p.Total)
	e.FieldStart("page")
	e.Int(p.Page)
	e.FieldStart("limit")
	e.Int(p.Limit)
	e.ObjEnd()
}

func encodeValidationFields(e *jx.Encoder, r *promotion.ValidationResult) {
	e.FieldStart("valid")
	e.Bool(true)
	strField(e, "promotion_id", r.PromotionID)
	strField(e, "promotion_name", r.PromotionName)
	e.FieldStart("discount_amount")
	money(e, r.DiscountAmount)
	e.FieldStart("free_shipping")
	e.Bool(r.FreeShipping)
	e.FieldStart("gift_sku_ids")
	e.ArrStart()
	for _, id := range r.GiftSKUIDs {
		e.Str(id)
	}
	e.ArrEnd()
}

// EncodeValidation writes a successful validation.
func EncodeValidation(e *jx.Encoder, r *promotion.ValidationResult) {
	e.ObjStart()
	encodeValidationFields(e, r)
	e.ObjEnd()
}

// EncodeApply writes a committed application.
func EncodeApply(e *jx.Encoder, r *promotion.ApplyResult) {
	e.ObjStart()
	encodeValidationFields(e, &r.ValidationResult)
	strField(e, "usage_id", r.UsageID)
	e.ObjEnd()
}

// EncodeStats writes usage statistics.
func EncodeStats(e *jx.Encoder, s *promotion.Stats) {
	e.ObjStart()
	e.FieldStart("total_usages")
	e.Int(s.TotalUsages)
	e.FieldStart("total_discount")
	money(e, s.TotalDiscount)
	e.FieldStart("total_order_amount")
	money(e, s.TotalOrderAmount)
	e.FieldStart("average_discount")
	money(e, s.AverageDiscount)
	e.FieldStart("remaining_usages")
	if s.RemainingUsages != nil {
		e.Int(*s.RemainingUsages)
	} else {
		e.Null()
	}
	e.ObjEnd()
}

// EncodeRejection writes a rejected validation or application.
func EncodeRejection(e *jx.Encoder, status int, r *promotion.Rejection) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("valid")
	e.Bool(false)
	strField(e, "reason", string(r.Reason))
	if r.RuleType != "" {
		strField(e, "rule_type", string(r.RuleType))
	}
	strField(e, "message", r.Message)
	e.ObjEnd()
}
