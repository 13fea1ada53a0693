// Package ratelimit はクライアント単位の固定ウィンドウ方式レート制限を提供する。
//
// ウィンドウの開始はキーごとに最初のリクエストの時刻で決まり、
// now - windowStart >= window になった時点でカウンタをリセットする。
// ウィンドウ境界でのバーストにより瞬間的に上限の2倍まで通過しうるのは
// 固定ウィンドウ方式の仕様である。
//
// カウンタの保存先はメモリ（単一プロセス）とRedis（複数インスタンス共有）の
// 2種類があり、どちらも判定と加算を1つの不可分な操作として行う。
package ratelimit

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxRequests はウィンドウあたりの既定の上限リクエスト数。
	DefaultMaxRequests = 100
	// DefaultWindow は既定のウィンドウ幅。
	DefaultWindow = 15 * time.Minute
)

// ErrInvalidConfig はレート制限の設定が不正であることを表す。
var ErrInvalidConfig = errors.New("レート制限の設定が不正です")

// Config はレート制限の上限とウィンドウ幅。
type Config struct {
	// MaxRequests はウィンドウあたりに許可するリクエスト数。
	MaxRequests int
	// Window はウィンドウ幅。
	Window time.Duration
}

// DefaultConfig は既定値のConfigを返す。
func DefaultConfig() Config {
	return Config{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

func (c Config) validate() error {
	if c.MaxRequests <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("MaxRequestsは1以上である必要があります"))
	}
	if c.Window <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("Windowは正の値である必要があります"))
	}
	return nil
}

// Decision は1回の受付判定の結果。
type Decision struct {
	// Allowed はリクエストを受け付けたかどうか。
	Allowed bool
	// Limit はウィンドウあたりの上限。
	Limit int
	// Remaining は現在のウィンドウで残っている受付可能数。
	Remaining int
	// ResetAfter は現在のウィンドウが終わるまでの時間。
	ResetAfter time.Duration
}

// Limiter はクライアントキーごとの受付判定を行う。
//
// Admitが受け付けた場合のみカウンタを1増やす。拒否した場合はカウンタに触れない。
// 同じキーに対する同時呼び出しでも、上限を超えて受け付けることはない。
type Limiter interface {
	// Admit はキーに対するリクエストを受け付けるか判定する。
	Admit(ctx context.Context, key string, now time.Time) (Decision, error)
	// Ping はカウンタの保存先に到達できるか確認する。
	Ping(ctx context.Context) error
	// Close は保存先への接続などの資源を解放する。
	Close() error
}
