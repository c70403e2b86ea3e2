package payment

import (
	"fmt"
	"regexp"
	"time"
)

const (
	// MaxAmount 最大金額（補助単位）
	MaxAmount = 10_000_000_000_000
	// DefaultCurrency 通貨が指定されなかった場合の通貨コード
	DefaultCurrency = "USD"
)

var (
	idRegex       = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)
	userIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	keyRegex      = regexp.MustCompile(`^[\x21-\x7e]{1,255}$`)
)

// Payment 決済レコードエンティティ
// ステータス以外の項目は作成後に変更されない
type Payment struct {
	paymentID           string
	userID              string
	amount              int64 // 補助単位（セント）
	currency            string
	method              Method // マスク済み
	status              Status
	idempotencyKey      string
	failureReason       string
	needsReconciliation bool
	createdAt           time.Time
	processedAt         *time.Time
	updatedAt           time.Time
}

// Snapshot 永続化層との受け渡しに使う決済レコードの全項目
type Snapshot struct {
	PaymentID           string
	UserID              string
	Amount              int64
	Currency            string
	Method              Method
	Status              Status
	IdempotencyKey      string
	FailureReason       string
	NeedsReconciliation bool
	CreatedAt           time.Time
	ProcessedAt         *time.Time
	UpdatedAt           time.Time
}

// NewPayment pendingステータスの新しいPaymentを作成
func NewPayment(
	paymentID string,
	userID string,
	amount int64,
	currency string,
	method Method,
	idempotencyKey string,
	createdAt time.Time,
) (*Payment, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Restore(Snapshot{
		PaymentID:      paymentID,
		UserID:         userID,
		Amount:         amount,
		Currency:       currency,
		Method:         method,
		Status:         StatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	})
}

// Restore 保存済みの値からPaymentを再構築
func Restore(s Snapshot) (*Payment, error) {
	if !idRegex.MatchString(s.PaymentID) {
		return nil, fmt.Errorf("%w: payment id", ErrInvalidPayment)
	}
	if err := ValidateUserID(s.UserID); err != nil {
		return nil, err
	}
	if s.Amount <= 0 || s.Amount > MaxAmount {
		return nil, ErrInvalidAmount
	}
	if !currencyRegex.MatchString(s.Currency) {
		return nil, fmt.Errorf("%w: currency %q", ErrInvalidPayment, s.Currency)
	}
	if s.Method == nil {
		return nil, ErrInvalidMethod
	}
	if !s.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidPayment, s.Status)
	}
	if s.IdempotencyKey != "" && !keyRegex.MatchString(s.IdempotencyKey) {
		return nil, fmt.Errorf("%w: idempotency key", ErrInvalidPayment)
	}

	var processedAt *time.Time
	if s.ProcessedAt != nil {
		t := *s.ProcessedAt
		processedAt = &t
	}
	return &Payment{
		paymentID:           s.PaymentID,
		userID:              s.UserID,
		amount:              s.Amount,
		currency:            s.Currency,
		method:              s.Method.Masked(),
		status:              s.Status,
		idempotencyKey:      s.IdempotencyKey,
		failureReason:       s.FailureReason,
		needsReconciliation: s.NeedsReconciliation,
		createdAt:           s.CreatedAt,
		processedAt:         processedAt,
		updatedAt:           s.UpdatedAt,
	}, nil
}

// ValidateUserID ユーザーIDの形式を検証
func ValidateUserID(userID string) error {
	if !userIDRegex.MatchString(userID) {
		return fmt.Errorf("%w: user id", ErrInvalidPayment)
	}
	return nil
}

// ValidateCurrency 通貨コードの形式を検証
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("%w: currency %q", ErrInvalidPayment, currency)
	}
	return nil
}

// PaymentID 決済IDを返す
func (p *Payment) PaymentID() string {
	return p.paymentID
}

// UserID ユーザーIDを返す
func (p *Payment) UserID() string {
	return p.userID
}

// Amount 金額を返す
func (p *Payment) Amount() int64 {
	return p.amount
}

// Currency 通貨コードを返す
func (p *Payment) Currency() string {
	return p.currency
}

// Method マスク済みの支払い方法を返す
func (p *Payment) Method() Method {
	return p.method
}

// Status ステータスを返す
func (p *Payment) Status() Status {
	return p.status
}

// IdempotencyKey 冪等キーを返す
func (p *Payment) IdempotencyKey() string {
	return p.idempotencyKey
}

// FailureReason 失敗理由を返す
func (p *Payment) FailureReason() string {
	return p.failureReason
}

// NeedsReconciliation 照合が必要かどうかを返す
func (p *Payment) NeedsReconciliation() bool {
	return p.needsReconciliation
}

// CreatedAt 作成日時を返す
func (p *Payment) CreatedAt() time.Time {
	return p.createdAt
}

// ProcessedAt 処理確定日時を返す（未確定ならnil）
func (p *Payment) ProcessedAt() *time.Time {
	if p.processedAt == nil {
		return nil
	}
	t := *p.processedAt
	return &t
}

// UpdatedAt 更新日時を返す
func (p *Payment) UpdatedAt() time.Time {
	return p.updatedAt
}

// TransitionTo ステータスを遷移させる
// processed / failed への遷移時にのみ processedAt を設定する
func (p *Payment) TransitionTo(next Status, at time.Time) error {
	if err := ValidateTransition(p.status, next); err != nil {
		return err
	}
	if next == StatusProcessed || next == StatusFailed {
		t := at
		p.processedAt = &t
	}
	p.status = next
	p.updatedAt = at
	return nil
}

// MarkFailure 失敗理由と照合要否を記録
func (p *Payment) MarkFailure(reason string, needsReconciliation bool) {
	p.failureReason = reason
	p.needsReconciliation = needsReconciliation
}

// Snapshot 全項目のコピーを返す
func (p *Payment) Snapshot() Snapshot {
	return Snapshot{
		PaymentID:           p.paymentID,
		UserID:              p.userID,
		Amount:              p.amount,
		Currency:            p.currency,
		Method:              p.method,
		Status:              p.status,
		IdempotencyKey:      p.idempotencyKey,
		FailureReason:       p.failureReason,
		NeedsReconciliation: p.needsReconciliation,
		CreatedAt:           p.createdAt,
		ProcessedAt:         p.ProcessedAt(),
		UpdatedAt:           p.updatedAt,
	}
}

// Clone 独立したコピーを返す
func (p *Payment) Clone() *Payment {
	c := *p
	c.processedAt = p.ProcessedAt()
	return &c
}

// MustNewPayment テスト用ヘルパー: NewPaymentを呼び出し、エラーが発生した場合はpanicする
func MustNewPayment(paymentID, userID string, amount int64, currency string, method Method, idempotencyKey string, createdAt time.Time) *Payment {
	p, err := NewPayment(paymentID, userID, amount, currency, method, idempotencyKey, createdAt)
	if err != nil {
		panic(err)
	}
	return p
}

// MustRestore テスト用ヘルパー: Restoreを呼び出し、エラーが発生した場合はpanicする
func MustRestore(s Snapshot) *Payment {
	p, err := Restore(s)
	if err != nil {
		panic(err)
	}
	return p
}
