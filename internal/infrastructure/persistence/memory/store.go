package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"
)

// ロック順序: Store.mu -> paymentEntry.mu -> accountEntry.mu
// paymentEntry.mu を保持したまま Store.mu を取得してはならない

type paymentEntry struct {
	mu        sync.Mutex
	userID    string    // 不変
	createdAt time.Time // 不変
	p         *payment.Payment
	refund    *refund.Refund
}

type accountEntry struct {
	mu  sync.Mutex
	acc *account.Account
}

type idempotencyKey struct {
	userID string
	key    string
}

// Store メモリ上の台帳ストア
// レコード単位のロックでCASを実現し、ストア全体のロックはマップの参照にのみ使う
type Store struct {
	mu       sync.RWMutex
	payments map[string]*paymentEntry
	byUser   map[string][]string
	keys     map[idempotencyKey]string
	accounts map[string]*accountEntry
	newID    func() string
}

// Option Storeのオプション
type Option func(*Store) error

// WithBalances 口座の初期残高を設定する
func WithBalances(balances map[string]int64) Option {
	return func(s *Store) error {
		for userID, balance := range balances {
			acc, err := account.NewAccount(userID, balance, 0)
			if err != nil {
				return fmt.Errorf("failed to seed account %s: %w", userID, err)
			}
			s.accounts[userID] = &accountEntry{acc: acc}
		}
		return nil
	}
}

// WithIDGenerator 決済IDの採番方法を差し替える
func WithIDGenerator(f func() string) Option {
	return func(s *Store) error {
		s.newID = f
		return nil
	}
}

// NewStore 新しいStoreを作成
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		payments: make(map[string]*paymentEntry),
		byUser:   make(map[string][]string),
		keys:     make(map[idempotencyKey]string),
		accounts: make(map[string]*accountEntry),
		newID:    ledger.NewPaymentID,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

var _ ledger.Store = (*Store)(nil)

// CreatePayment pendingの決済レコードを作成する
func (s *Store) CreatePayment(ctx context.Context, spec ledger.CreateSpec) (*payment.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var key idempotencyKey
	if spec.IdempotencyKey != "" {
		key = idempotencyKey{userID: spec.UserID, key: spec.IdempotencyKey}
		if id, ok := s.keys[key]; ok {
			e := s.payments[id]
			e.mu.Lock()
			active := e.p.Status() != payment.StatusFailed
			e.mu.Unlock()
			if active {
				return nil, fmt.Errorf("%w: %s", payment.ErrDuplicateIdempotencyKey, id)
			}
		}
	}

	id := s.newID()
	if _, exists := s.payments[id]; exists {
		return nil, fmt.Errorf("%w: payment id collision %s", payment.ErrConcurrentModification, id)
	}
	p, err := payment.NewPayment(id, spec.UserID, spec.Amount, spec.Currency, spec.Method, spec.IdempotencyKey, spec.CreatedAt)
	if err != nil {
		return nil, err
	}

	s.payments[id] = &paymentEntry{userID: spec.UserID, createdAt: p.CreatedAt(), p: p}
	s.insertByUser(spec.UserID, id, p.CreatedAt())
	if spec.IdempotencyKey != "" {
		s.keys[key] = id
	}
	return p.Clone(), nil
}

// GetPayment 決済レコードを取得する
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(paymentID)
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), nil
}

// FindByIdempotencyKey 冪等キーに紐づく有効な決済レコードを取得する
func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, key string) (*payment.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	id, ok := s.keys[idempotencyKey{userID: userID, key: key}]
	var e *paymentEntry
	if ok {
		e = s.payments[id]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.p.Status() == payment.StatusFailed {
		return nil, payment.ErrPaymentNotFound
	}
	return e.p.Clone(), nil
}

// CompareAndSwapStatus ステータスの確認、遷移、口座変更を原子的に行う
func (s *Store) CompareAndSwapStatus(ctx context.Context, change ledger.StatusChange) (*ledger.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(change.PaymentID)
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}

	var ae *accountEntry
	if change.SideEffect != nil {
		var err error
		if ae, err = s.accountEntry(e.userID); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if current := e.p.Status(); current != change.Expected {
		return nil, fmt.Errorf("%w: payment %s is %s, expected %s", ledger.ErrStaleState, change.PaymentID, current, change.Expected)
	}

	next := e.p.Clone()
	if err := next.TransitionTo(change.Next, change.At); err != nil {
		return nil, err
	}
	if change.FailureReason != "" || change.NeedsReconciliation {
		next.MarkFailure(change.FailureReason, change.NeedsReconciliation)
	}

	commit := &ledger.Commit{Payment: next}

	if ae != nil {
		ae.mu.Lock()
		defer ae.mu.Unlock()
		acc := ae.acc.Clone()
		if err := change.SideEffect(acc); err != nil {
			return nil, fmt.Errorf("failed to apply side effect: %w", err)
		}
		ae.acc = acc
		commit.Account = acc.Clone()
	}

	e.p = next
	commit.Payment = next.Clone()
	if change.Refund != nil {
		e.refund = change.Refund.Clone()
		commit.Refund = change.Refund.Clone()
	}
	return commit, nil
}

// ListByUser ユーザーの決済レコードを作成順に返す
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*payment.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	ids := s.byUser[userID]
	if offset >= len(ids) {
		s.mu.RUnlock()
		return []*payment.Payment{}, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	entries := make([]*paymentEntry, 0, end-offset)
	for _, id := range ids[offset:end] {
		entries = append(entries, s.payments[id])
	}
	s.mu.RUnlock()

	out := make([]*payment.Payment, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.p.Clone())
		e.mu.Unlock()
	}
	return out, nil
}

// GetAccount 口座を取得する（未作成なら残高0で作成）
func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ae, err := s.accountEntry(userID)
	if err != nil {
		return nil, err
	}
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return ae.acc.Clone(), nil
}

// GetRefund 決済に紐づく返金レコードを取得する
func (s *Store) GetRefund(ctx context.Context, paymentID string) (*refund.Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.lookup(paymentID)
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refund == nil {
		return nil, refund.ErrRefundNotFound
	}
	return e.refund.Clone(), nil
}

// FindForReconciliation 照合が必要なレコードを作成順に返す
func (s *Store) FindForReconciliation(ctx context.Context, stuckBefore time.Time, limit int) ([]*payment.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]*paymentEntry, 0, len(s.payments))
	for _, e := range s.payments {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*payment.Payment
	for _, e := range entries {
		e.mu.Lock()
		p := e.p
		stuck := (p.Status() == payment.StatusProcessing || p.Status() == payment.StatusRefundPending) &&
			p.UpdatedAt().Before(stuckBefore)
		if p.NeedsReconciliation() || stuck {
			out = append(out, p.Clone())
		}
		e.mu.Unlock()
	}

	slices.SortFunc(out, func(a, b *payment.Payment) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		return strings.Compare(a.PaymentID(), b.PaymentID())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// insertByUser ユーザーの決済一覧を (作成日時, 決済ID) の順に保つ
// s.mu の書き込みロックを保持して呼ぶこと
func (s *Store) insertByUser(userID, id string, createdAt time.Time) {
	ids := s.byUser[userID]
	i, _ := slices.BinarySearchFunc(ids, id, func(existing, target string) int {
		if c := s.payments[existing].createdAt.Compare(createdAt); c != 0 {
			return c
		}
		return strings.Compare(existing, target)
	})
	s.byUser[userID] = slices.Insert(ids, i, id)
}

func (s *Store) lookup(paymentID string) (*paymentEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.payments[paymentID]
	return e, ok
}

// accountEntry 口座エントリを返す。未作成なら残高0で作成する
func (s *Store) accountEntry(userID string) (*accountEntry, error) {
	s.mu.RLock()
	ae, ok := s.accounts[userID]
	s.mu.RUnlock()
	if ok {
		return ae, nil
	}

	acc, err := account.Zero(userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ae, ok := s.accounts[userID]; ok {
		return ae, nil
	}
	ae = &accountEntry{acc: acc}
	s.accounts[userID] = ae
	return ae, nil
}
