package repository

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const promotionColumns = `id, tenant_id, name, COALESCE(code, ''), description,
	start_time, end_time, is_active, priority, usage_limit, used_count,
	once_per_customer, created_at, updated_at`

const (
	findPromotionByCodeSQL = `SELECT ` + promotionColumns + `
		FROM promotions
		WHERE tenant_id = $1 AND code = $2 AND deleted_at IS NULL`

	getPromotionByIDSQL = `SELECT ` + promotionColumns + `
		FROM promotions
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`

	listPromotionsFilter = `FROM promotions
		WHERE tenant_id = $1 AND deleted_at IS NULL
		AND ($2::boolean IS NULL OR is_active = $2)
		AND ($3 = '' OR name ILIKE $3 OR code ILIKE $3)`

	listPromotionsSQL = `SELECT ` + promotionColumns + ` ` + listPromotionsFilter + `
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`

	countPromotionsSQL = `SELECT count(*) ` + listPromotionsFilter

	listAvailablePromotionsSQL = `SELECT ` + promotionColumns + `
		FROM promotions
		WHERE tenant_id = $1 AND deleted_at IS NULL AND is_active
		AND start_time <= $2 AND end_time >= $2
		AND (usage_limit IS NULL OR used_count < usage_limit)
		ORDER BY priority DESC, created_at, id`

	listRulesSQL = `SELECT promotion_id, rule_type, operator, value
		FROM promotion_rules
		WHERE promotion_id = ANY($1)
		ORDER BY promotion_id, position`

	listActionsSQL = `SELECT promotion_id, action_type, value, max_discount_amount
		FROM promotion_actions
		WHERE promotion_id = ANY($1)
		ORDER BY promotion_id, position`

	insertPromotionSQL = `INSERT INTO promotions (id, tenant_id, name, code, description,
		start_time, end_time, is_active, priority, usage_limit, used_count,
		once_per_customer, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, 0, $11, $12, $13)`

	updatePromotionSQL = `UPDATE promotions SET
		name = $3, code = NULLIF($4, ''), description = $5, start_time = $6, end_time = $7,
		is_active = $8, priority = $9, usage_limit = $10, once_per_customer = $11, updated_at = $12
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
		RETURNING used_count`

	insertRuleSQL = `INSERT INTO promotion_rules (promotion_id, position, rule_type, operator, value)
		VALUES ($1, $2, $3, $4, $5)`

	insertActionSQL = `INSERT INTO promotion_actions (promotion_id, position, action_type, value, max_discount_amount)
		VALUES ($1, $2, $3, $4, $5)`

	deleteRulesSQL   = `DELETE FROM promotion_rules WHERE promotion_id = $1`
	deleteActionsSQL = `DELETE FROM promotion_actions WHERE promotion_id = $1`

	toggleActiveSQL = `UPDATE promotions SET is_active = NOT is_active, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`

	lockForDeleteSQL = `SELECT EXISTS (SELECT 1 FROM promotion_usages u WHERE u.promotion_id = p.id)
		FROM promotions p
		WHERE p.tenant_id = $1 AND p.id = $2 AND p.deleted_at IS NULL
		FOR UPDATE OF p`

	softDeleteSQL = `UPDATE promotions SET deleted_at = now(), updated_at = now()
		WHERE tenant_id = $1 AND id = $2`

	incrementUsageSQL = `UPDATE promotions SET used_count = used_count + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
		AND (usage_limit IS NULL OR used_count < usage_limit)`

	insertUsageSQL = `INSERT INTO promotion_usages (id, promotion_id, tenant_id, user_id, order_id,
		discount_amount, order_amount, once_per_customer, created_at)
		SELECT $1, p.id, p.tenant_id, NULLIF($4, ''), $5, $6, $7, p.once_per_customer, $8
		FROM promotions p
		WHERE p.id = $2 AND p.tenant_id = $3`

	hasUsageSQL = `SELECT EXISTS (SELECT 1 FROM promotion_usages
		WHERE tenant_id = $1 AND promotion_id = $2 AND user_id = $3)`

	recentUsagesSQL = `SELECT id, promotion_id, tenant_id, COALESCE(user_id, ''), order_id,
		discount_amount, order_amount, created_at
		FROM promotion_usages
		WHERE tenant_id = $1 AND promotion_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	usageTotalsSQL = `SELECT count(*), COALESCE(sum(discount_amount), 0), COALESCE(sum(order_amount), 0)
		FROM promotion_usages
		WHERE tenant_id = $1 AND promotion_id = $2`
)

const (
	tenantCodeConstraint = "promotions_tenant_code_key"
	usedCountConstraint  = "promotions_used_count_check"
	usageOnceConstraint  = "promotion_usages_once_key"
)

var (
	_ promotion.Repository = (*PromotionRepository)(nil)
	_ promotion.Tx         = (*promotionTx)(nil)
)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	reader
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{reader: reader{q: pool}, pool: pool}
}

// reader implements promotion.Reader over either the pool or a transaction.
type reader struct {
	q querier
}

// FindByCode looks up a live promotion by its normalized code.
func (r reader) FindByCode(ctx context.Context, tenantID, code string) (*promotion.Promotion, error) {
	return r.getOne(ctx, findPromotionByCodeSQL, tenantID, code)
}

// HasUsage reports whether userID already consumed the promotion.
func (r reader) HasUsage(ctx context.Context, tenantID, promotionID, userID string) (bool, error) {
	var exists bool
	if err := r.q.QueryRow(ctx, hasUsageSQL, tenantID, promotionID, userID).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check usage of promotion %q", promotionID)
	}
	return exists, nil
}

func (r reader) getOne(ctx context.Context, sql string, args ...any) (*promotion.Promotion, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query promotion")
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrPromotionNotFound
		}
		return nil, errors.Wrap(err, "scan promotion")
	}
	promos := []promotion.Promotion{p}
	if err := r.attachChildren(ctx, promos); err != nil {
		return nil, err
	}
	return &promos[0], nil
}

func (r reader) getMany(ctx context.Context, sql string, args ...any) ([]promotion.Promotion, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query promotions")
	}
	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, errors.Wrap(err, "scan promotions")
	}
	if err := r.attachChildren(ctx, promos); err != nil {
		return nil, err
	}
	return promos, nil
}

// attachChildren loads rules and actions for all promotions in two queries.
// Raw values are compiled here, once per load.
func (r reader) attachChildren(ctx context.Context, promos []promotion.Promotion) error {
	if len(promos) == 0 {
		return nil
	}
	ids := make([]string, len(promos))
	index := make(map[string]int, len(promos))
	for i := range promos {
		ids[i] = promos[i].ID
		index[promos[i].ID] = i
	}

	rows, err := r.q.Query(ctx, listRulesSQL, ids)
	if err != nil {
		return errors.Wrap(err, "query rules")
	}
	var (
		promotionID string
		ruleType    string
		operator    string
		value       string
	)
	if _, err := pgx.ForEachRow(rows, []any{&promotionID, &ruleType, &operator, &value}, func() error {
		i := index[promotionID]
		promos[i].Rules = append(promos[i].Rules,
			promotion.NewRule(promotion.RuleType(ruleType), promotion.Operator(operator), value))
		return nil
	}); err != nil {
		return errors.Wrap(err, "scan rules")
	}

	rows, err = r.q.Query(ctx, listActionsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "query actions")
	}
	var (
		actionType  string
		maxDiscount decimal.NullDecimal
	)
	if _, err := pgx.ForEachRow(rows, []any{&promotionID, &actionType, &value, &maxDiscount}, func() error {
		var limit *decimal.Decimal
		if maxDiscount.Valid {
			d := maxDiscount.Decimal
			limit = &d
		}
		i := index[promotionID]
		promos[i].Actions = append(promos[i].Actions,
			promotion.NewAction(promotion.ActionType(actionType), value, limit))
		return nil
	}); err != nil {
		return errors.Wrap(err, "scan actions")
	}
	return nil
}

// WithinTx runs fn inside a read committed transaction.
func (r *PromotionRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx promotion.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &promotionTx{reader: reader{q: tx}})
	})
}

// Create inserts the promotion with its rules and actions.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertPromotionSQL,
			p.ID, p.TenantID, p.Name, p.Code, p.Description,
			p.StartTime, p.EndTime, p.IsActive, p.Priority, usageLimitParam(p.UsageLimit),
			p.OncePerCustomer, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return err
		}
		return insertChildren(ctx, tx, p)
	})
	if err != nil {
		if constraintViolation(err, uniqueViolation, tenantCodeConstraint) {
			return promotion.ErrDuplicateCode
		}
		return errors.Wrapf(err, "create promotion %q", p.ID)
	}
	return nil
}

// GetByID returns a live promotion of the tenant.
func (r *PromotionRepository) GetByID(ctx context.Context, tenantID, id string) (*promotion.Promotion, error) {
	return r.getOne(ctx, getPromotionByIDSQL, tenantID, id)
}

// List returns one page of promotions, newest first, and the total number of
// promotions matching the filter.
func (r *PromotionRepository) List(ctx context.Context, tenantID string, f promotion.ListFilter) ([]promotion.Promotion, int, error) {
	search := ""
	if f.Search != "" {
		search = "%" + likeEscaper.Replace(f.Search) + "%"
	}

	var total int
	if err := r.pool.QueryRow(ctx, countPromotionsSQL, tenantID, f.IsActive, search).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count promotions")
	}
	if total == 0 {
		return []promotion.Promotion{}, 0, nil
	}

	promos, err := r.getMany(ctx, listPromotionsSQL, tenantID, f.IsActive, search, f.Limit, (f.Page-1)*f.Limit)
	if err != nil {
		return nil, 0, err
	}
	return promos, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Update rewrites the promotion row and replaces its rules and actions. The
// used count is left untouched and copied back into p.
func (r *PromotionRepository) Update(ctx context.Context, p *promotion.Promotion) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var usedCount int32
		if err := tx.QueryRow(ctx, updatePromotionSQL,
			p.TenantID, p.ID, p.Name, p.Code, p.Description,
			p.StartTime, p.EndTime, p.IsActive, p.Priority, usageLimitParam(p.UsageLimit),
			p.OncePerCustomer, p.UpdatedAt,
		).Scan(&usedCount); err != nil {
			return err
		}
		p.UsedCount = int(usedCount)

		if _, err := tx.Exec(ctx, deleteRulesSQL, p.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteActionsSQL, p.ID); err != nil {
			return err
		}
		return insertChildren(ctx, tx, p)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return promotion.ErrPromotionNotFound
	case constraintViolation(err, uniqueViolation, tenantCodeConstraint):
		return promotion.ErrDuplicateCode
	case constraintViolation(err, checkViolation, usedCountConstraint):
		return promotion.ErrUsageLimitBelowUsed
	default:
		return errors.Wrapf(err, "update promotion %q", p.ID)
	}
}

// ToggleActive flips the active flag.
func (r *PromotionRepository) ToggleActive(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, toggleActiveSQL, tenantID, id)
	if err != nil {
		return errors.Wrapf(err, "toggle promotion %q", id)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrPromotionNotFound
	}
	return nil
}

// SoftDelete marks an unused promotion as deleted. The row lock serializes
// it with concurrent applications, which update the same row.
func (r *PromotionRepository) SoftDelete(ctx context.Context, tenantID, id string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var used bool
		if err := tx.QueryRow(ctx, lockForDeleteSQL, tenantID, id).Scan(&used); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return promotion.ErrPromotionNotFound
			}
			return err
		}
		if used {
			return promotion.ErrHasUsages
		}
		_, err := tx.Exec(ctx, softDeleteSQL, tenantID, id)
		return err
	})
	if err != nil {
		if errors.Is(err, promotion.ErrPromotionNotFound) || errors.Is(err, promotion.ErrHasUsages) {
			return err
		}
		return errors.Wrapf(err, "delete promotion %q", id)
	}
	return nil
}

// ListAvailable returns active, in-window promotions with usages left.
func (r *PromotionRepository) ListAvailable(ctx context.Context, tenantID string, now time.Time) ([]promotion.Promotion, error) {
	return r.getMany(ctx, listAvailablePromotionsSQL, tenantID, now)
}

// RecentUsages returns up to limit usages, newest first.
func (r *PromotionRepository) RecentUsages(ctx context.Context, tenantID, promotionID string, limit int) ([]promotion.Usage, error) {
	rows, err := r.pool.Query(ctx, recentUsagesSQL, tenantID, promotionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query usages")
	}
	usages, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return nil, errors.Wrap(err, "scan usages")
	}
	return usages, nil
}

// UsageTotals aggregates all usages of a promotion.
func (r *PromotionRepository) UsageTotals(ctx context.Context, tenantID, promotionID string) (promotion.UsageTotals, error) {
	var (
		t     promotion.UsageTotals
		count int64
	)
	if err := r.pool.QueryRow(ctx, usageTotalsSQL, tenantID, promotionID).Scan(&count, &t.Discount, &t.OrderAmount); err != nil {
		return promotion.UsageTotals{}, errors.Wrap(err, "usage totals")
	}
	t.Count = int(count)
	return t, nil
}

// promotionTx is the transactional side used by Apply.
type promotionTx struct {
	reader
}

// IncrementUsage increments used_count only while the usage limit allows it.
func (tx *promotionTx) IncrementUsage(ctx context.Context, tenantID, promotionID string) (bool, error) {
	tag, err := tx.q.Exec(ctx, incrementUsageSQL, tenantID, promotionID)
	if err != nil {
		return false, errors.Wrapf(err, "increment usage of promotion %q", promotionID)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertUsage records a usage. The once-per-customer flag is copied from the
// promotion row so the partial unique index can enforce it.
func (tx *promotionTx) InsertUsage(ctx context.Context, u *promotion.Usage) error {
	if _, err := tx.q.Exec(ctx, insertUsageSQL,
		u.ID, u.PromotionID, u.TenantID, u.UserID, u.OrderID,
		u.DiscountAmount, u.OrderAmount, u.CreatedAt,
	); err != nil {
		if constraintViolation(err, uniqueViolation, usageOnceConstraint) {
			return promotion.ErrDuplicateUsage
		}
		return errors.Wrapf(err, "insert usage for order %q", u.OrderID)
	}
	return nil
}

func insertChildren(ctx context.Context, q querier, p *promotion.Promotion) error {
	b := &pgx.Batch{}
	for i, rule := range p.Rules {
		b.Queue(insertRuleSQL, p.ID, i, string(rule.Type), string(rule.Operator), rule.Value)
	}
	for i, action := range p.Actions {
		var maxDiscount decimal.NullDecimal
		if action.MaxDiscountAmount != nil {
			maxDiscount = decimal.NewNullDecimal(*action.MaxDiscountAmount)
		}
		b.Queue(insertActionSQL, p.ID, i, string(action.Type), action.Value, maxDiscount)
	}
	if b.Len() == 0 {
		return nil
	}

	br := q.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrap(err, "insert rules and actions")
		}
	}
	return br.Close()
}

func usageLimitParam(limit *int) *int32 {
	if limit == nil {
		return nil
	}
	v := int32(*limit)
	return &v
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p          promotion.Promotion
		priority   int32
		usageLimit *int32
		usedCount  int32
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Code, &p.Description,
		&p.StartTime, &p.EndTime, &p.IsActive, &priority, &usageLimit, &usedCount,
		&p.OncePerCustomer, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Priority = int(priority)
	if usageLimit != nil {
		limit := int(*usageLimit)
		p.UsageLimit = &limit
	}
	p.UsedCount = int(usedCount)
	return p, err
}

func scanUsage(row pgx.CollectableRow) (promotion.Usage, error) {
	var u promotion.Usage
	err := row.Scan(
		&u.ID, &u.PromotionID, &u.TenantID, &u.UserID, &u.OrderID,
		&u.DiscountAmount, &u.OrderAmount, &u.CreatedAt,
	)
	return u, err
}
