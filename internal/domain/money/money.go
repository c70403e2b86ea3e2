package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidFormat 金額の書式が無効
	ErrInvalidFormat = errors.New("invalid amount format")
	// ErrTooPrecise 小数点以下の桁数が多すぎる
	ErrTooPrecise = errors.New("amount has more than two fractional digits")
	// ErrNotPositive 金額が0以下
	ErrNotPositive = errors.New("amount must be positive")
	// ErrOutOfRange 金額が表現可能な範囲外
	ErrOutOfRange = errors.New("amount out of range")
)

// MinorUnitExponent 補助単位の桁数（セント）
const MinorUnitExponent = 2

// MaxMinorUnits 受け付ける最大金額（補助単位）
const MaxMinorUnits = 10_000_000_000_000

var minorUnitScale = decimal.New(1, MinorUnitExponent)

// Parse "12.34" のような10進数文字列を補助単位の整数に変換する
// 0以下の金額はErrNotPositive
func Parse(s string) (int64, error) {
	minor, err := ParseSigned(s)
	if err != nil {
		return 0, err
	}
	if minor <= 0 {
		return 0, ErrNotPositive
	}
	return minor, nil
}

// ParseSigned 符号付きの残高などを補助単位の整数に変換する
func ParseSigned(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidFormat
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if d.Exponent() < -MinorUnitExponent && !d.Equal(d.Truncate(MinorUnitExponent)) {
		return 0, ErrTooPrecise
	}
	minor := d.Mul(minorUnitScale)
	if minor.Abs().GreaterThan(decimal.NewFromInt(MaxMinorUnits)) {
		return 0, ErrOutOfRange
	}
	return minor.IntPart(), nil
}

// Format 補助単位の整数を "12.34" 形式の文字列に変換する
func Format(minor int64) string {
	return decimal.New(minor, -MinorUnitExponent).StringFixed(MinorUnitExponent)
}
