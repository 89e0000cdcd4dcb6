package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// KeysetPosition is a point in (created_date DESC, id DESC) order.
type KeysetPosition struct {
	CreatedDate time.Time
	ID          snowflake.ID
}

type Repository interface {
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Transaction, error)
	// LockByExternalID reads the row under a row lock held until db, which
	// must be a transaction, ends. A missing row yields nil.
	LockByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Transaction, error)
	// Upsert writes the candidate unless the stored row reflects more events.
	Upsert(ctx context.Context, db *gorm.DB, candidate *Transaction) (UpsertOutcome, error)
	Search(ctx context.Context, db *gorm.DB, params SearchParams, offset, limit int) ([]Transaction, error)
	// Count returns at most limit; capped is set when more rows match.
	Count(ctx context.Context, db *gorm.DB, params SearchParams, limit int64) (total int64, capped bool, err error)
	// SearchAfter reads rows strictly after pos in descending order, or
	// strictly before it in ascending order when reverse is set.
	SearchAfter(ctx context.Context, db *gorm.DB, params SearchParams, pos *KeysetPosition, limit int, reverse bool) ([]Transaction, error)
	// ListCreatedBetween returns rows in ascending keyset order after pos
	// and created strictly before cutoff.
	ListCreatedBetween(ctx context.Context, db *gorm.DB, pos KeysetPosition, cutoff time.Time, limit int) ([]Transaction, error)
	UpdateRedacted(ctx context.Context, db *gorm.DB, tx *Transaction) error
}
