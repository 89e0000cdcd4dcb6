package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/txledger/internal/config"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	pkgdb "github.com/smallbiznis/txledger/pkg/db"
	"gorm.io/gorm"
)

const defaultMaxRetries = 3

const selectColumns = `id, external_id, gateway_account_id, parent_external_id, service_id, live,
	type, state, event_count, created_date, amount, fee, net_amount, total_amount,
	corporate_surcharge, reference, description, email, cardholder_name, card_brand,
	first_digits_card_number, last_digits_card_number, gateway_transaction_id,
	gateway_payout_id, moto, settled_date, transaction_details, external_metadata,
	content_hash, updated_at`

type Options struct {
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	// MaxRetries bounds retries of a write that lost a first-insert race.
	MaxRetries int
}

type repo struct {
	opts Options
}

func New(opts Options) domain.Repository {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &repo{opts: opts}
}

func Provide(dbCfg pkgdb.Config, cfg config.Config) domain.Repository {
	return New(Options{
		LockTimeout:      dbCfg.LockTimeout,
		StatementTimeout: dbCfg.StatementTimeout,
		MaxRetries:       cfg.Upsert.MaxRetries,
	})
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Transaction, error) {
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM transactions
		 WHERE external_id = ?
		 LIMIT 1`,
		externalID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// Upsert runs the read-compare-write in one transaction holding the row lock.
// A concurrent first insert shows up as a duplicate key and the whole
// transaction is replayed, this time finding the row.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, candidate *domain.Transaction) (domain.UpsertOutcome, error) {
	var (
		outcome domain.UpsertOutcome
		err     error
	)
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		outcome, err = r.upsertOnce(ctx, db, candidate)
		if err == nil || !pkgdb.IsDuplicateKeyErr(err) {
			return outcome, err
		}
	}
	return outcome, fmt.Errorf("upsert %s: %w", candidate.ExternalID, err)
}

func (r *repo) upsertOnce(ctx context.Context, db *gorm.DB, candidate *domain.Transaction) (domain.UpsertOutcome, error) {
	var outcome domain.UpsertOutcome
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.applyTimeouts(tx); err != nil {
			return err
		}

		existing, err := r.lockByExternalID(tx, candidate.ExternalID)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := tx.Create(candidate).Error; err != nil {
				return err
			}
			outcome = domain.UpsertOutcome{Result: domain.UpsertInserted, StoredEventCount: candidate.EventCount}
			return nil
		}

		if existing.GatewayAccountID != "" && candidate.GatewayAccountID != "" &&
			existing.GatewayAccountID != candidate.GatewayAccountID {
			return fmt.Errorf("%w: %s stored for account %s, candidate for %s",
				domain.ErrIdentityConflict, candidate.ExternalID, existing.GatewayAccountID, candidate.GatewayAccountID)
		}
		if existing.Type != candidate.Type {
			return fmt.Errorf("%w: %s stored as %s, candidate is %s",
				domain.ErrIdentityConflict, candidate.ExternalID, existing.Type, candidate.Type)
		}

		switch {
		case candidate.EventCount < existing.EventCount:
			outcome = skipped(domain.SkipStale, existing.EventCount)
			return nil
		case candidate.EventCount == existing.EventCount && candidate.ContentHash == existing.ContentHash:
			outcome = skipped(domain.SkipUnchanged, existing.EventCount)
			return nil
		}

		if candidate.GatewayAccountID == "" {
			candidate.GatewayAccountID = existing.GatewayAccountID
		}
		candidate.ID = existing.ID

		res := tx.Model(&domain.Transaction{}).
			Where("id = ? AND event_count <= ?", existing.ID, candidate.EventCount).
			Updates(updateColumns(candidate))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = skipped(domain.SkipStale, existing.EventCount)
			return nil
		}
		outcome = domain.UpsertOutcome{Result: domain.UpsertUpdated, StoredEventCount: candidate.EventCount}
		return nil
	})
	if err != nil {
		return domain.UpsertOutcome{}, err
	}
	return outcome, nil
}

func skipped(reason domain.SkipReason, stored int) domain.UpsertOutcome {
	return domain.UpsertOutcome{Result: domain.UpsertSkipped, SkipReason: reason, StoredEventCount: stored}
}

func (r *repo) applyTimeouts(tx *gorm.DB) error {
	if !pkgdb.IsPostgres(tx) {
		return nil
	}
	if r.opts.LockTimeout > 0 {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", r.opts.LockTimeout.Milliseconds())).Error; err != nil {
			return err
		}
	}
	if r.opts.StatementTimeout > 0 {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", r.opts.StatementTimeout.Milliseconds())).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) LockByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Transaction, error) {
	return r.lockByExternalID(db.WithContext(ctx), externalID)
}

func (r *repo) lockByExternalID(tx *gorm.DB, externalID string) (*domain.Transaction, error) {
	query := `SELECT ` + selectColumns + `
		FROM transactions
		WHERE external_id = ?
		LIMIT 1`
	// sqlite serialises writers itself and has no row locks
	if !pkgdb.IsSQLite(tx) {
		query += ` FOR UPDATE`
	}

	var items []domain.Transaction
	if err := tx.Raw(query, externalID).Scan(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func updateColumns(t *domain.Transaction) map[string]any {
	return map[string]any{
		"gateway_account_id":       t.GatewayAccountID,
		"parent_external_id":       t.ParentExternalID,
		"service_id":               t.ServiceID,
		"live":                     t.Live,
		"state":                    t.State,
		"event_count":              t.EventCount,
		"created_date":             t.CreatedDate,
		"amount":                   t.Amount,
		"fee":                      t.Fee,
		"net_amount":               t.NetAmount,
		"total_amount":             t.TotalAmount,
		"corporate_surcharge":      t.CorporateSurcharge,
		"reference":                t.Reference,
		"description":              t.Description,
		"email":                    t.Email,
		"cardholder_name":          t.CardholderName,
		"card_brand":               t.CardBrand,
		"first_digits_card_number": t.FirstDigitsCardNumber,
		"last_digits_card_number":  t.LastDigitsCardNumber,
		"gateway_transaction_id":   t.GatewayTransactionID,
		"gateway_payout_id":        t.GatewayPayoutID,
		"moto":                     t.Moto,
		"settled_date":             t.SettledDate,
		"transaction_details":      t.TransactionDetails,
		"external_metadata":        t.ExternalMetadata,
		"content_hash":             t.ContentHash,
		"updated_at":               t.UpdatedAt,
	}
}

func (r *repo) UpdateRedacted(ctx context.Context, db *gorm.DB, t *domain.Transaction) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET email = ?, cardholder_name = ?, first_digits_card_number = ?,
			last_digits_card_number = ?, transaction_details = ?, content_hash = ?, updated_at = ?
		 WHERE id = ?`,
		t.Email,
		t.CardholderName,
		t.FirstDigitsCardNumber,
		t.LastDigitsCardNumber,
		t.TransactionDetails,
		t.ContentHash,
		t.UpdatedAt,
		t.ID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
