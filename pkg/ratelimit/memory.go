package ratelimit

import (
	"context"
	"sync"
	"time"
)

// defaultCleanupInterval は期限切れカウンタを掃除する既定の間隔。
const defaultCleanupInterval = time.Minute

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter はプロセス内のメモリにカウンタを保持するLimiter。
// キーごとのロックで判定と加算を直列化する。
type MemoryLimiter struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]*window

	cleanupInterval time.Duration
	stop            chan struct{}
	closeOnce       sync.Once
}

// window は1つのクライアントキーのカウンタ。
type window struct {
	mu    sync.Mutex
	start time.Time
	count int
	// removed は掃除でマップから外されたことを表す。
	// 外されたwindowを掴んだ呼び出しは取り直す。
	removed bool
}

// MemoryOption はMemoryLimiterの設定を変更する関数。
type MemoryOption func(*MemoryLimiter)

// WithCleanupInterval は期限切れカウンタを掃除する間隔を設定する。
// 0以下を指定すると掃除用goroutineを起動しない。
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) { l.cleanupInterval = d }
}

// NewMemoryLimiter は新しいMemoryLimiterを生成する。
// 不要になったらCloseで掃除用goroutineを止めること。
func NewMemoryLimiter(cfg Config, opts ...MemoryOption) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &MemoryLimiter{
		cfg:             cfg,
		windows:         make(map[string]*window),
		cleanupInterval: defaultCleanupInterval,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.cleanupInterval > 0 {
		go l.janitor()
	}
	return l, nil
}

// Admit はLimiterを実装する。
func (l *MemoryLimiter) Admit(_ context.Context, key string, now time.Time) (Decision, error) {
	for {
		w := l.window(key)

		w.mu.Lock()
		if w.removed {
			w.mu.Unlock()
			continue
		}
		d := w.admit(now, l.cfg)
		w.mu.Unlock()

		return d, nil
	}
}

// window はキーのカウンタを取得し、無ければ作成する。
func (l *MemoryLimiter) window(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

// admit は呼び出し側がw.muを保持した状態で判定と加算を行う。
func (w *window) admit(now time.Time, cfg Config) Decision {
	if w.start.IsZero() || now.Sub(w.start) >= cfg.Window {
		w.start = now
		w.count = 0
	}

	resetAfter := w.start.Add(cfg.Window).Sub(now)
	if w.count >= cfg.MaxRequests {
		return Decision{
			Allowed:    false,
			Limit:      cfg.MaxRequests,
			Remaining:  0,
			ResetAfter: resetAfter,
		}
	}

	w.count++
	return Decision{
		Allowed:    true,
		Limit:      cfg.MaxRequests,
		Remaining:  cfg.MaxRequests - w.count,
		ResetAfter: resetAfter,
	}
}

// Cleanup はウィンドウが終了したカウンタを削除する。
func (l *MemoryLimiter) Cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		w.mu.Lock()
		if now.Sub(w.start) >= l.cfg.Window {
			w.removed = true
			delete(l.windows, key)
		}
		w.mu.Unlock()
	}
}

// Len は保持しているカウンタの数を返す。
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// janitor は定期的にCleanupを呼び出す。
func (l *MemoryLimiter) janitor() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.Cleanup(now)
		}
	}
}

// Ping はLimiterを実装する。メモリ上のため常に成功する。
func (l *MemoryLimiter) Ping(_ context.Context) error {
	return nil
}

// Close はLimiterを実装する。
func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	return nil
}
