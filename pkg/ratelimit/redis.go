package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix はRedis上のカウンタキーの既定の接頭辞。
const DefaultKeyPrefix = "ratelimit:"

var _ Limiter = (*RedisLimiter)(nil)

// admitScript は判定と加算を1回のスクリプト実行で行う。
// 上限に達している場合はカウンタを変更せずに拒否する。
// KEYS[1] = カウンタキー
// ARGV[1] = 上限
// ARGV[2] = ウィンドウ幅（ミリ秒）
// 戻り値 = {受付(1)/拒否(0), 現在のカウント, 残りTTL(ミリ秒)}
var admitScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= limit then
	return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end
return {1, current, ttl}
`)

// RedisLimiter はRedisにカウンタを保持するLimiter。
// 複数のゲートウェイインスタンスで同じ上限を共有できる。
// ウィンドウの経過はRedisサーバー側の時刻で判定するため、Admitのnowは使わない。
type RedisLimiter struct {
	client redis.UniversalClient
	cfg    Config
	prefix string
}

// RedisOption はRedisLimiterの設定を変更する関数。
type RedisOption func(*RedisLimiter)

// WithKeyPrefix はカウンタキーの接頭辞を設定する。
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

// NewRedisLimiter は新しいRedisLimiterを生成する。
// clientの所有権はRedisLimiterに移り、Closeで閉じられる。
func NewRedisLimiter(client redis.UniversalClient, cfg Config, opts ...RedisOption) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("Redisクライアントが指定されていません"))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &RedisLimiter{
		client: client,
		cfg:    cfg,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Admit はLimiterを実装する。
func (l *RedisLimiter) Admit(ctx context.Context, key string, _ time.Time) (Decision, error) {
	res, err := admitScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.cfg.MaxRequests,
		l.cfg.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("レート制限スクリプトの実行に失敗: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("レート制限スクリプトの戻り値が不正: %v", res)
	}

	allowed := res[0] == 1
	count := int(res[1])
	resetAfter := time.Duration(res[2]) * time.Millisecond
	if resetAfter < 0 {
		resetAfter = 0
	}

	remaining := l.cfg.MaxRequests - count
	if remaining < 0 || !allowed {
		remaining = 0
	}

	return Decision{
		Allowed:    allowed,
		Limit:      l.cfg.MaxRequests,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}, nil
}

// Ping はLimiterを実装する。
func (l *RedisLimiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redisへの疎通確認に失敗: %w", err)
	}
	return nil
}

// Close はLimiterを実装する。
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
