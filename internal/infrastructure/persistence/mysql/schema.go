package mysql

import (
	"context"
	"fmt"
)

// schema 台帳のテーブル定義
// 金額はすべて補助単位のBIGINT
var schema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		payment_id VARCHAR(64) NOT NULL PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		amount BIGINT NOT NULL,
		currency CHAR(3) NOT NULL,
		method JSON NOT NULL,
		status VARCHAR(32) NOT NULL,
		idempotency_key VARCHAR(255) NULL,
		failure_reason VARCHAR(512) NOT NULL DEFAULT '',
		needs_reconciliation BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		processed_at DATETIME(6) NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_payments_user_created (user_id, created_at, payment_id),
		INDEX idx_payments_reconciliation (needs_reconciliation, status, updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		user_id VARCHAR(255) NOT NULL,
		idempotency_key VARCHAR(255) NOT NULL,
		payment_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (user_id, idempotency_key)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id VARCHAR(255) NOT NULL PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		version INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refunds (
		refund_id VARCHAR(80) NOT NULL PRIMARY KEY,
		payment_id VARCHAR(64) NOT NULL UNIQUE,
		amount BIGINT NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		processed_at DATETIME(6) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate 台帳のテーブルを作成する
func Migrate(ctx context.Context, db *DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
