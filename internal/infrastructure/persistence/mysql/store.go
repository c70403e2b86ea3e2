package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"
)

const paymentColumns = `payment_id, user_id, amount, currency, method, status, idempotency_key,
			failure_reason, needs_reconciliation, created_at, processed_at, updated_at`

// Store MySQL実装の台帳ストア
// 状態遷移と残高変更は payments 行の排他ロックを取った1つのトランザクションで行う
type Store struct {
	db     *DB
	tm     *TransactionManager
	tracer trace.Tracer
	newID  func() string
}

// StoreOption Storeのオプション
type StoreOption func(*Store)

// WithIDGenerator 決済IDの採番方法を差し替える
func WithIDGenerator(f func() string) StoreOption {
	return func(s *Store) {
		s.newID = f
	}
}

// NewStore 新しいStoreを作成
func NewStore(db *DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		tm:     NewTransactionManager(db),
		tracer: otel.Tracer("ledger-store"),
		newID:  ledger.NewPaymentID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

// CreatePayment pendingの決済レコードを作成する
func (s *Store) CreatePayment(ctx context.Context, spec ledger.CreateSpec) (*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "Store.CreatePayment")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", spec.UserID),
		attribute.Int64("db.amount", spec.Amount),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "payments"),
	)

	p, err := payment.NewPayment(s.newID(), spec.UserID, spec.Amount, spec.Currency, spec.Method, spec.IdempotencyKey, spec.CreatedAt)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	methodJSON, err := payment.MarshalMethod(p.Method())
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	err = s.tm.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (`+paymentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.PaymentID(),
			p.UserID(),
			p.Amount(),
			p.Currency(),
			methodJSON,
			p.Status().String(),
			nullString(p.IdempotencyKey()),
			p.FailureReason(),
			p.NeedsReconciliation(),
			p.CreatedAt(),
			nil,
			p.UpdatedAt(),
		)
		if isMySQLError(err, errDuplicateEntry) {
			return fmt.Errorf("%w: payment id collision %s", payment.ErrConcurrentModification, p.PaymentID())
		}
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		if p.IdempotencyKey() == "" {
			return nil
		}
		return s.claimIdempotencyKey(ctx, tx, p)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("db.payment_id", p.PaymentID()))
	span.SetStatus(otelcodes.Ok, "payment created")
	return p, nil
}

// claimIdempotencyKey 冪等キーを新しい決済に割り当てる
// 既存の割り当て先がfailedの場合のみ付け替える
func (s *Store) claimIdempotencyKey(ctx context.Context, tx *sql.Tx, p *payment.Payment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (user_id, idempotency_key, payment_id)
		VALUES (?, ?, ?)
	`, p.UserID(), p.IdempotencyKey(), p.PaymentID())
	if err == nil {
		return nil
	}
	if !isMySQLError(err, errDuplicateEntry) {
		return fmt.Errorf("failed to insert idempotency key: %w", err)
	}

	var existingID, existingStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT k.payment_id, p.status
		FROM idempotency_keys k
		JOIN payments p ON p.payment_id = k.payment_id
		WHERE k.user_id = ? AND k.idempotency_key = ?
		FOR UPDATE
	`, p.UserID(), p.IdempotencyKey()).Scan(&existingID, &existingStatus)
	if err != nil {
		return fmt.Errorf("failed to lock idempotency key: %w", err)
	}
	if payment.Status(existingStatus) != payment.StatusFailed {
		return fmt.Errorf("%w: %s", payment.ErrDuplicateIdempotencyKey, existingID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE idempotency_keys SET payment_id = ?
		WHERE user_id = ? AND idempotency_key = ?
	`, p.PaymentID(), p.UserID(), p.IdempotencyKey())
	if err != nil {
		return fmt.Errorf("failed to reassign idempotency key: %w", err)
	}
	return nil
}

// GetPayment 決済レコードを取得する
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetPayment")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.payment_id", paymentID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "payments"),
	)

	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = ?`, paymentID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "payment not found")
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "payment found")
	return p, nil
}

// FindByIdempotencyKey 冪等キーに紐づく有効な決済レコードを取得する
// 紐づく決済がfailedの場合は見つからない扱い
func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, key string) (*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "Store.FindByIdempotencyKey")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "idempotency_keys"),
	)

	var paymentID string
	err := s.db.QueryRowContext(ctx, `
		SELECT payment_id FROM idempotency_keys
		WHERE user_id = ? AND idempotency_key = ?
	`, userID, key).Scan(&paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "idempotency key not found")
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to find idempotency key: %w", err)
	}

	p, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status() == payment.StatusFailed {
		return nil, payment.ErrPaymentNotFound
	}
	return p, nil
}

// CompareAndSwapStatus ステータスの確認、遷移、口座変更を1つのトランザクションで行う
func (s *Store) CompareAndSwapStatus(ctx context.Context, change ledger.StatusChange) (*ledger.Commit, error) {
	ctx, span := s.tracer.Start(ctx, "Store.CompareAndSwapStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.payment_id", change.PaymentID),
		attribute.String("db.expected_status", change.Expected.String()),
		attribute.String("db.next_status", change.Next.String()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "payments"),
	)

	var commit *ledger.Commit
	err := s.tm.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		commit, err = s.compareAndSwap(ctx, tx, change)
		return err
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetStatus(otelcodes.Ok, "status swapped")
	return commit, nil
}

func (s *Store) compareAndSwap(ctx context.Context, tx *sql.Tx, change ledger.StatusChange) (*ledger.Commit, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = ? FOR UPDATE`, change.PaymentID)
	current, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}

	if current.Status() != change.Expected {
		return nil, fmt.Errorf("%w: payment %s is %s, expected %s", ledger.ErrStaleState, change.PaymentID, current.Status(), change.Expected)
	}

	next := current.Clone()
	if err := next.TransitionTo(change.Next, change.At); err != nil {
		return nil, err
	}
	if change.FailureReason != "" || change.NeedsReconciliation {
		next.MarkFailure(change.FailureReason, change.NeedsReconciliation)
	}

	commit := &ledger.Commit{Payment: next}

	if change.SideEffect != nil {
		acc, err := s.lockAccount(ctx, tx, next.UserID())
		if err != nil {
			return nil, err
		}
		if err := change.SideEffect(acc); err != nil {
			return nil, fmt.Errorf("failed to apply side effect: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO accounts (user_id, balance, version)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE
				balance = VALUES(balance),
				version = VALUES(version)
		`, acc.UserID(), acc.Balance(), acc.Version())
		if err != nil {
			return nil, fmt.Errorf("failed to save account: %w", err)
		}
		commit.Account = acc
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, failure_reason = ?, needs_reconciliation = ?, processed_at = ?, updated_at = ?
		WHERE payment_id = ? AND status = ?
	`,
		next.Status().String(),
		next.FailureReason(),
		next.NeedsReconciliation(),
		nullTime(next.ProcessedAt()),
		next.UpdatedAt(),
		next.PaymentID(),
		change.Expected.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: payment %s", ledger.ErrStaleState, change.PaymentID)
	}

	if r := change.Refund; r != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO refunds (refund_id, payment_id, amount, status, created_at, processed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				amount = VALUES(amount),
				status = VALUES(status),
				processed_at = VALUES(processed_at)
		`, r.RefundID(), r.PaymentID(), r.Amount(), r.Status().String(), r.CreatedAt(), nullTime(r.ProcessedAt()))
		if err != nil {
			return nil, fmt.Errorf("failed to save refund: %w", err)
		}
		commit.Refund = r.Clone()
	}

	return commit, nil
}

// lockAccount 口座行を排他ロックして読む。未登録なら残高0の口座を返す
func (s *Store) lockAccount(ctx context.Context, tx *sql.Tx, userID string) (*account.Account, error) {
	var balance int64
	var version int
	err := tx.QueryRowContext(ctx, `
		SELECT balance, version FROM accounts WHERE user_id = ? FOR UPDATE
	`, userID).Scan(&balance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Zero(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return account.NewAccount(userID, balance, version)
}

// ListByUser ユーザーの決済レコードを作成順に返す
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListByUser")
	defer span.End()

	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.Int("db.limit", limit),
		attribute.Int("db.offset", offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "payments"),
	)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE user_id = ?
		ORDER BY created_at ASC, payment_id ASC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments, err := scanPayments(rows)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.rows_returned", len(payments)))
	span.SetStatus(otelcodes.Ok, "payments found")
	return payments, nil
}

// GetAccount 口座を取得する。未登録なら残高0の口座を返す
func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetAccount")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "accounts"),
	)

	zero, err := account.Zero(userID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var balance int64
	var version int
	err = s.db.QueryRowContext(ctx, `
		SELECT balance, version FROM accounts WHERE user_id = ?
	`, userID).Scan(&balance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "account not found")
		return zero, nil
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("db.balance", balance),
		attribute.Int("db.version", version),
	)
	span.SetStatus(otelcodes.Ok, "account found")
	return account.NewAccount(userID, balance, version)
}

// GetRefund 決済に紐づく返金レコードを取得する
func (s *Store) GetRefund(ctx context.Context, paymentID string) (*refund.Refund, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetRefund")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.payment_id", paymentID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "refunds"),
	)

	var refundID, dbPaymentID, status string
	var amount int64
	var createdAt time.Time
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT refund_id, payment_id, amount, status, created_at, processed_at
		FROM refunds
		WHERE payment_id = ?
	`, paymentID).Scan(&refundID, &dbPaymentID, &amount, &status, &createdAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// 決済自体の有無で返すエラーを分ける
		if _, err := s.GetPayment(ctx, paymentID); err != nil {
			return nil, err
		}
		span.SetStatus(otelcodes.Ok, "refund not found")
		return nil, refund.ErrRefundNotFound
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to find refund: %w", err)
	}

	st, err := refund.NewStatus(status)
	if err != nil {
		return nil, err
	}
	r, err := refund.Restore(refundID, dbPaymentID, amount, st, createdAt, timePtr(processedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct refund entity: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "refund found")
	return r, nil
}

// FindForReconciliation 照合が必要なレコードを作成順に返す
func (s *Store) FindForReconciliation(ctx context.Context, stuckBefore time.Time, limit int) ([]*payment.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "Store.FindForReconciliation")
	defer span.End()

	if limit <= 0 {
		limit = math.MaxInt32
	}

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "payments"),
	)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE needs_reconciliation = TRUE
			OR (status IN (?, ?) AND updated_at < ?)
		ORDER BY created_at ASC, payment_id ASC
		LIMIT ?
	`, payment.StatusProcessing.String(), payment.StatusRefundPending.String(), stuckBefore, limit)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to find payments for reconciliation: %w", err)
	}
	defer rows.Close()

	payments, err := scanPayments(rows)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.rows_returned", len(payments)))
	span.SetStatus(otelcodes.Ok, "payments found")
	return payments, nil
}

func scanPayments(rows *sql.Rows) ([]*payment.Payment, error) {
	payments := make([]*payment.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row scanner) (*payment.Payment, error) {
	var snap payment.Snapshot
	var methodJSON []byte
	var status string
	var key sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(
		&snap.PaymentID,
		&snap.UserID,
		&snap.Amount,
		&snap.Currency,
		&methodJSON,
		&status,
		&key,
		&snap.FailureReason,
		&snap.NeedsReconciliation,
		&snap.CreatedAt,
		&processedAt,
		&snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if snap.Method, err = payment.UnmarshalMethod(methodJSON); err != nil {
		return nil, err
	}
	if snap.Status, err = payment.NewStatus(status); err != nil {
		return nil, err
	}
	snap.IdempotencyKey = key.String
	snap.ProcessedAt = timePtr(processedAt)

	p, err := payment.Restore(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct payment entity: %w", err)
	}
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
