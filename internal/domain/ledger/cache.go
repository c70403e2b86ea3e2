package ledger

import (
	"context"

	"ledger-server/internal/domain/payment"
)

// StatusCache 決済ステータスのキャッシュ
// 正はStoreであり、キャッシュの失敗は処理結果に影響させない
type StatusCache interface {
	// Put 現在値より進んだステータスの場合のみ書き込む
	Put(ctx context.Context, paymentID string, status payment.Status) error
	// Get キャッシュされたステータスを返す。未登録ならok=false
	Get(ctx context.Context, paymentID string) (status payment.Status, ok bool, err error)
}

// NopStatusCache 何もしないキャッシュ
type NopStatusCache struct{}

// Put 何もしない
func (NopStatusCache) Put(context.Context, string, payment.Status) error { return nil }

// Get 常に未登録を返す
func (NopStatusCache) Get(context.Context, string) (payment.Status, bool, error) {
	return "", false, nil
}
