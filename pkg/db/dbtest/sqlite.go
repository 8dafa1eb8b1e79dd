// Package dbtest opens throwaway SQLite databases carrying the marina schema
// for package tests.
package dbtest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Money columns are TEXT so decimals round-trip exactly.
var schema = []string{
	`CREATE TABLE vessels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		registration TEXT,
		capacity INTEGER NOT NULL DEFAULT 0,
		location TEXT,
		max_advance_days INTEGER NOT NULL DEFAULT 62,
		max_active_bookings INTEGER NOT NULL DEFAULT 2,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE user_vessels (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		vessel_id TEXT NOT NULL,
		total_value TEXT NOT NULL,
		down_payment TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		total_installments INTEGER NOT NULL DEFAULT 0,
		marina_fee_amount TEXT NOT NULL,
		marina_due_day INTEGER NOT NULL DEFAULT 10,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (user_id, vessel_id)
	)`,
	`CREATE TABLE bookings (
		id TEXT PRIMARY KEY,
		vessel_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		booking_date DATE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT,
		cancellation_reason TEXT,
		cancelled_at DATETIME,
		approved_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_bookings_vessel_date_active ON bookings (vessel_id, booking_date) WHERE status <> 'cancelled'`,
	`CREATE TABLE blocked_date_ranges (
		id TEXT PRIMARY KEY,
		vessel_id TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		reason TEXT NOT NULL,
		notes TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE weekly_blocks (
		id TEXT PRIMARY KEY,
		day_of_week INTEGER NOT NULL,
		reason TEXT NOT NULL,
		notes TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_weekly_blocks_active_day ON weekly_blocks (day_of_week) WHERE is_active`,
	obligationTable("installments", "installment_number INTEGER NOT NULL,"),
	`CREATE UNIQUE INDEX ux_installments_number ON installments (user_vessel_id, installment_number)`,
	obligationTable("marina_payments", ""),
	`CREATE UNIQUE INDEX ux_marina_payments_due ON marina_payments (user_vessel_id, due_date)`,
	obligationTable("ad_hoc_charges", "description TEXT NOT NULL,"),
	`CREATE TABLE subscription_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		amount TEXT NOT NULL,
		frequency INTEGER NOT NULL DEFAULT 1,
		frequency_type TEXT NOT NULL DEFAULT 'months',
		trial_days INTEGER NOT NULL DEFAULT 0,
		billing_day INTEGER,
		late_interest_percent TEXT NOT NULL DEFAULT '0',
		penalty_percent TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		next_charge_date DATETIME,
		last_charged_at DATETIME,
		provider_payment_id TEXT,
		provider_payment_status TEXT,
		provider_payment_expires_at DATETIME,
		metadata BLOB,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

func obligationTable(name, extra string) string {
	return `CREATE TABLE ` + name + ` (
		id TEXT PRIMARY KEY,
		user_vessel_id TEXT NOT NULL,
		` + extra + `
		amount TEXT NOT NULL,
		due_date DATE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_date DATETIME,
		notes TEXT,
		payment_provider TEXT,
		provider_payment_id TEXT,
		provider_preference_id TEXT,
		provider_status TEXT,
		provider_status_detail TEXT,
		provider_checkout_url TEXT,
		provider_metadata BLOB,
		created_at DATETIME,
		updated_at DATETIME
	)`
}

// New opens an isolated in-memory database with every marina table created.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// TxRunner runs callbacks in a real transaction on db.
type TxRunner struct {
	DB *gorm.DB
}

func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}
