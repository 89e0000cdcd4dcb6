package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Schema mirrors the postgres migrations closely enough for repository tests.
var Schema = []string{
	`CREATE TABLE events (
		id BIGINT PRIMARY KEY,
		resource_external_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		parent_resource_external_id TEXT,
		event_type TEXT NOT NULL,
		event_date DATETIME NOT NULL,
		service_id TEXT,
		live BOOLEAN NOT NULL DEFAULT FALSE,
		payload TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		received_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_events_delivery ON events(resource_external_id, resource_type, event_type, event_date, payload_hash)`,
	`CREATE TABLE transactions (
		id BIGINT PRIMARY KEY,
		external_id TEXT NOT NULL,
		gateway_account_id TEXT,
		parent_external_id TEXT,
		service_id TEXT,
		live BOOLEAN NOT NULL DEFAULT FALSE,
		type TEXT NOT NULL,
		state TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		created_date DATETIME NOT NULL,
		amount BIGINT,
		fee BIGINT,
		net_amount BIGINT,
		total_amount BIGINT,
		corporate_surcharge BIGINT,
		reference TEXT,
		description TEXT,
		email TEXT,
		cardholder_name TEXT,
		card_brand TEXT,
		first_digits_card_number TEXT,
		last_digits_card_number TEXT,
		gateway_transaction_id TEXT,
		gateway_payout_id TEXT,
		moto BOOLEAN NOT NULL DEFAULT FALSE,
		settled_date DATETIME,
		transaction_details TEXT NOT NULL,
		external_metadata TEXT,
		content_hash TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_transactions_external_id ON transactions(external_id)`,
	`CREATE INDEX ix_transactions_created_date_id ON transactions(created_date DESC, id DESC)`,
	`CREATE TABLE watermarks (
		name TEXT PRIMARY KEY,
		value DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

// NewDB opens a private in-memory sqlite database with the ledger schema.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:txledger_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
