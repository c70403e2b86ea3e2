package account

import (
	"errors"
	"regexp"
)

var (
	// ErrInvalidUserID ユーザーIDが無効
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrBalanceOutOfRange 残高が範囲外
	ErrBalanceOutOfRange = errors.New("balance out of range")
	// ErrInvalidAmount 金額が無効
	ErrInvalidAmount = errors.New("invalid amount")
)

const (
	// MaxBalance 最大残高（補助単位）
	MaxBalance = 10_000_000_000_000
	// MinBalance 最小残高。決済は残高不足でも確定するためマイナスを許容する
	MinBalance = -10_000_000_000_000
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)

// Account 口座エンティティ
// 初回参照時に残高0で作られ、削除されない
type Account struct {
	userID  string
	balance int64 // 補助単位、マイナス値を許可
	version int   // 楽観的ロック用
}

// NewAccount 新しいAccountエンティティを作成
func NewAccount(userID string, balance int64, version int) (*Account, error) {
	if !userIDRegex.MatchString(userID) {
		return nil, ErrInvalidUserID
	}
	if balance < MinBalance || balance > MaxBalance {
		return nil, ErrBalanceOutOfRange
	}
	return &Account{
		userID:  userID,
		balance: balance,
		version: version,
	}, nil
}

// Zero 残高0の口座を返す
func Zero(userID string) (*Account, error) {
	return NewAccount(userID, 0, 0)
}

// UserID ユーザーIDを返す
func (a *Account) UserID() string {
	return a.userID
}

// Balance 残高を返す
func (a *Account) Balance() int64 {
	return a.balance
}

// Version バージョンを返す（楽観的ロック用）
func (a *Account) Version() int {
	return a.version
}

// IsNegative 残高がマイナスかどうか
func (a *Account) IsNegative() bool {
	return a.balance < 0
}

// Credit 入金する
func (a *Account) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	// オーバーフローチェック
	if a.balance > MaxBalance-amount {
		return ErrBalanceOutOfRange
	}
	a.balance += amount
	a.version++
	return nil
}

// Debit 出金する（マイナス残高を許可）
func (a *Account) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	// アンダーフローチェック
	if a.balance < MinBalance+amount {
		return ErrBalanceOutOfRange
	}
	a.balance -= amount
	a.version++
	return nil
}

// Clone 独立したコピーを返す
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// MustNewAccount テスト用ヘルパー
func MustNewAccount(userID string, balance int64, version int) *Account {
	a, err := NewAccount(userID, balance, version)
	if err != nil {
		panic(err)
	}
	return a
}
