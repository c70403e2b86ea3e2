package mysql

import (
	"context"
	"database/sql"
)

// 既定の最大試行回数
const defaultTxAttempts = 3

// TransactionManager 台帳更新のトランザクション境界を管理する
// デッドロック(1213)で中断されたトランザクションは先頭からやり直す
type TransactionManager struct {
	db          *DB
	maxAttempts int
}

// NewTransactionManager 新しいトランザクションマネージャーを作成
func NewTransactionManager(db *DB) *TransactionManager {
	return &TransactionManager{db: db, maxAttempts: defaultTxAttempts}
}

// WithMaxAttempts デッドロック時の最大試行回数を設定したコピーを返す
func (tm *TransactionManager) WithMaxAttempts(n int) *TransactionManager {
	if n < 1 {
		n = 1
	}
	return &TransactionManager{db: tm.db, maxAttempts: n}
}

// WithTransaction トランザクション内で関数を実行
// fnはデッドロック時に再実行されるため、トランザクション外への副作用を持ってはならない
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < tm.maxAttempts; attempt++ {
		err = tm.runOnce(ctx, fn)
		if !isMySQLError(err, errLockDeadlock) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// runOnce 1回分のトランザクションを実行し、エラーまたはパニック時はロールバックする
func (tm *TransactionManager) runOnce(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	return fn(tx)
}
