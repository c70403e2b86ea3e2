package payment

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MethodKind 支払い方法の種別
type MethodKind string

const (
	MethodKindCard   MethodKind = "card"   // クレジットカード
	MethodKindWallet MethodKind = "wallet" // ウォレット送金
)

// String 文字列表現を返す
func (k MethodKind) String() string {
	return string(k)
}

// Method 支払い方法。Card または Wallet のいずれか
type Method interface {
	Kind() MethodKind
	// Masked 永続化しても安全な表現を返す
	Masked() Method
	isMethod()
}

var (
	cardNumberRegex = regexp.MustCompile(`^[0-9]{12,19}$`)
	cvvRegex        = regexp.MustCompile(`^[0-9]{3,4}$`)
	expiryRegex     = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
	accountRefRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@\+]{1,255}$`)
)

// Card カード決済
type Card struct {
	Number string
	CVV    string
	Expiry string // MM/YY
}

// NewCard 入力値を検証してCardを作成
func NewCard(number, cvv, expiry string) (Card, error) {
	number = strings.ReplaceAll(strings.TrimSpace(number), " ", "")
	if !cardNumberRegex.MatchString(number) {
		return Card{}, fmt.Errorf("%w: card number", ErrInvalidMethod)
	}
	if !cvvRegex.MatchString(cvv) {
		return Card{}, fmt.Errorf("%w: cvv", ErrInvalidMethod)
	}
	if !expiryRegex.MatchString(expiry) {
		return Card{}, fmt.Errorf("%w: expiry", ErrInvalidMethod)
	}
	return Card{Number: number, CVV: cvv, Expiry: expiry}, nil
}

// Kind 種別を返す
func (Card) Kind() MethodKind { return MethodKindCard }

// Masked 下4桁以外を伏せ、CVVを除いたCardを返す
func (c Card) Masked() Method {
	last4 := c.Number
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return Card{Number: "****" + last4, Expiry: c.Expiry}
}

// Last4 カード番号の下4桁を返す
func (c Card) Last4() string {
	if len(c.Number) <= 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

func (Card) isMethod() {}

// Wallet ウォレット送金
type Wallet struct {
	AccountRef string
}

// NewWallet 入力値を検証してWalletを作成
func NewWallet(accountRef string) (Wallet, error) {
	accountRef = strings.TrimSpace(accountRef)
	if !accountRefRegex.MatchString(accountRef) {
		return Wallet{}, fmt.Errorf("%w: account ref", ErrInvalidMethod)
	}
	return Wallet{AccountRef: accountRef}, nil
}

// Kind 種別を返す
func (Wallet) Kind() MethodKind { return MethodKindWallet }

// Masked ウォレット参照は秘匿情報ではないのでそのまま返す
func (w Wallet) Masked() Method { return w }

func (Wallet) isMethod() {}

// methodSnapshot 永続化用のJSON表現
type methodSnapshot struct {
	Kind       MethodKind `json:"kind"`
	Number     string     `json:"number,omitempty"`
	Expiry     string     `json:"expiry,omitempty"`
	AccountRef string     `json:"account_ref,omitempty"`
}

// MarshalMethod 支払い方法をマスクしたうえでJSONに変換する
func MarshalMethod(m Method) ([]byte, error) {
	if m == nil {
		return nil, ErrInvalidMethod
	}
	var snap methodSnapshot
	switch v := m.Masked().(type) {
	case Card:
		snap = methodSnapshot{Kind: MethodKindCard, Number: v.Number, Expiry: v.Expiry}
	case Wallet:
		snap = methodSnapshot{Kind: MethodKindWallet, AccountRef: v.AccountRef}
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrInvalidMethod, m.Kind())
	}
	return json.Marshal(snap)
}

// UnmarshalMethod MarshalMethodで作ったJSONから支払い方法を復元する
func UnmarshalMethod(data []byte) (Method, error) {
	var snap methodSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal method: %w", err)
	}
	switch snap.Kind {
	case MethodKindCard:
		return Card{Number: snap.Number, Expiry: snap.Expiry}, nil
	case MethodKindWallet:
		return Wallet{AccountRef: snap.AccountRef}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrInvalidMethod, snap.Kind)
	}
}
