package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	pkgdb "github.com/smallbiznis/txledger/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (r *repo) Search(ctx context.Context, db *gorm.DB, params domain.SearchParams, offset, limit int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := filtered(db.WithContext(ctx), params).
		Select(selectColumns).
		Order("created_date DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Count stops scanning after limit+1 rows so broad filters stay cheap.
func (r *repo) Count(ctx context.Context, db *gorm.DB, params domain.SearchParams, limit int64) (int64, bool, error) {
	sub := filtered(db.WithContext(ctx), params).Select("1")
	if limit > 0 {
		sub = sub.Limit(int(limit) + 1)
	}

	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM (?) AS capped", sub).
		Scan(&total).Error
	if err != nil {
		return 0, false, err
	}
	if limit > 0 && total > limit {
		return limit, true, nil
	}
	return total, false, nil
}

func (r *repo) SearchAfter(ctx context.Context, db *gorm.DB, params domain.SearchParams, pos *domain.KeysetPosition, limit int, reverse bool) ([]domain.Transaction, error) {
	q := filtered(db.WithContext(ctx), params).Select(selectColumns)
	if pos != nil {
		at := pos.CreatedDate.UTC()
		if reverse {
			q = q.Where("(created_date > ? OR (created_date = ? AND id > ?))", at, at, pos.ID)
		} else {
			q = q.Where("(created_date < ? OR (created_date = ? AND id < ?))", at, at, pos.ID)
		}
	}
	if reverse {
		q = q.Order("created_date ASC").Order("id ASC")
	} else {
		q = q.Order("created_date DESC").Order("id DESC")
	}

	var items []domain.Transaction
	if err := q.Limit(limit).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCreatedBetween(ctx context.Context, db *gorm.DB, pos domain.KeysetPosition, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	at := pos.CreatedDate.UTC()
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM transactions
		 WHERE (created_date > ? OR (created_date = ? AND id > ?))
			AND created_date < ?
		 ORDER BY created_date ASC, id ASC
		 LIMIT ?`,
		at, at, pos.ID,
		cutoff.UTC(),
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func filtered(db *gorm.DB, p domain.SearchParams) *gorm.DB {
	q := db.Table("transactions")

	if len(p.AccountIDs) > 0 {
		q = q.Where("gateway_account_id IN ?", p.AccountIDs)
	}
	if p.FromDate != nil {
		q = q.Where("created_date >= ?", p.FromDate.UTC())
	}
	if p.ToDate != nil {
		q = q.Where("created_date < ?", p.ToDate.UTC())
	}
	if p.FromSettledDate != nil {
		q = q.Where("settled_date >= ?", p.FromSettledDate.UTC())
	}
	if p.ToSettledDate != nil {
		q = q.Where("settled_date < ?", p.ToSettledDate.UTC())
	}
	if p.Reference != "" {
		if p.ExactReferenceMatch {
			q = q.Where("reference = ?", p.Reference)
		} else {
			q = q.Where("LOWER(reference) "+like(db), containsPattern(p.Reference))
		}
	}
	if p.CardholderName != "" {
		q = q.Where("LOWER(cardholder_name) "+like(db), containsPattern(p.CardholderName))
	}
	if p.Email != "" {
		q = q.Where("LOWER(email) "+like(db), containsPattern(p.Email))
	}
	if len(p.CardBrands) > 0 {
		brands := make([]string, 0, len(p.CardBrands))
		for _, b := range p.CardBrands {
			brands = append(brands, strings.ToLower(b))
		}
		q = q.Where("LOWER(card_brand) IN ?", brands)
	}
	if p.FirstDigits != "" {
		q = q.Where("first_digits_card_number = ?", p.FirstDigits)
	}
	if p.LastDigits != "" {
		q = q.Where("last_digits_card_number = ?", p.LastDigits)
	}
	if p.GatewayTransactionID != "" {
		q = q.Where("gateway_transaction_id = ?", p.GatewayTransactionID)
	}
	if p.GatewayPayoutID != "" {
		q = q.Where("gateway_payout_id = ?", p.GatewayPayoutID)
	}
	if len(p.Types) > 0 {
		q = q.Where("type IN ?", p.Types)
	}
	if len(p.States) > 0 {
		q = q.Where(stateCondition(db, p))
	}
	if p.MetadataKey != "" {
		q = q.Where(datatypes.JSONQuery("external_metadata").Equals(p.MetadataValue, p.MetadataKey))
	}
	if p.Moto != nil {
		q = q.Where("moto = ?", *p.Moto)
	}
	if p.ParentExternalID != "" {
		q = q.Where("parent_external_id = ?", p.ParentExternalID)
	}
	return q
}

// stateCondition expands external statuses to stored state names per kind,
// since the same status string maps to different names in each table.
func stateCondition(db *gorm.DB, p domain.SearchParams) *gorm.DB {
	version := p.StatusVersion
	if !version.Valid() {
		version = state.V2
	}
	kinds := p.Types
	if len(kinds) == 0 {
		kinds = state.Kinds
	}

	cond := db.Session(&gorm.Session{NewDB: true})
	matched := false
	for _, kind := range kinds {
		var names []string
		for _, status := range p.States {
			names = append(names, state.NamesForStatus(kind, version, status)...)
		}
		if len(names) == 0 {
			continue
		}
		if !matched {
			cond = cond.Where("(type = ? AND state IN ?)", kind, names)
		} else {
			cond = cond.Or("(type = ? AND state IN ?)", kind, names)
		}
		matched = true
	}
	if !matched {
		return cond.Where("1 = 0")
	}
	return cond
}

// like uses backslash as the escape character. postgres and mysql default to
// it, sqlite needs it spelled out.
func like(db *gorm.DB) string {
	if pkgdb.IsSQLite(db) {
		return `LIKE ? ESCAPE '\'`
	}
	return "LIKE ?"
}

func containsPattern(raw string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(raw))
	return "%" + escaped + "%"
}
