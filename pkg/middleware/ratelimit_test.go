package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/edgegate/pkg/ratelimit"
)

// newLimiter はテスト用のメモリレート制限器を生成する。
func newLimiter(t *testing.T, max int) *ratelimit.MemoryLimiter {
	t.Helper()

	l, err := ratelimit.NewMemoryLimiter(ratelimit.Config{MaxRequests: max, Window: time.Minute}, ratelimit.WithCleanupInterval(0))
	if err != nil {
		t.Fatalf("NewMemoryLimiter()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// brokenLimiter は常に保存先のエラーを返すレート制限器。
type brokenLimiter struct{}

func (brokenLimiter) Admit(context.Context, string, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("connection refused")
}
func (brokenLimiter) Ping(context.Context) error { return errors.New("connection refused") }
func (brokenLimiter) Close() error               { return nil }

// resultRecorder は判定結果を記録する。
type resultRecorder struct {
	mu      sync.Mutex
	results []string
}

func (r *resultRecorder) observe(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// TestRateLimit はRateLimitステージを検証する。
func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("上限を超えたリクエストは429になりヘッダーが付くこと", func(t *testing.T) {
		t.Parallel()

		rec := &resultRecorder{}
		now := time.Unix(1_700_000_000, 0)
		stage := RateLimit(RateLimitOptions{
			Limiter:  newLimiter(t, 2),
			Prefixes: []string{"/api/"},
			Observe:  rec.observe,
			Now:      func() time.Time { return now },
		})

		for i := range 2 {
			w := serveStages(httptest.NewRequest(http.MethodGet, "/api/x", nil), stage)
			if w.Code != http.StatusOK {
				t.Fatalf("%d回目: ステータスコード = %d, want %d", i+1, w.Code, http.StatusOK)
			}
		}

		w := serveStages(httptest.NewRequest(http.MethodGet, "/api/x", nil), stage)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
		if got := errorBody(t, w.Body.Bytes()); got != "Too many requests from this IP" {
			t.Errorf("error = %q, want %q", got, "Too many requests from this IP")
		}
		if got := w.Header().Get("Retry-After"); got != "60" {
			t.Errorf("Retry-After = %q, want %q", got, "60")
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want %q", got, "2")
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
			t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "0")
		}
		if got := w.Header().Get("X-RateLimit-Reset"); got != "1700000060" {
			t.Errorf("X-RateLimit-Reset = %q, want %q", got, "1700000060")
		}

		rec.mu.Lock()
		defer rec.mu.Unlock()
		want := []string{RateLimitAllowed, RateLimitAllowed, RateLimitDenied}
		if len(rec.results) != len(want) {
			t.Fatalf("判定結果 = %v, want %v", rec.results, want)
		}
		for i := range want {
			if rec.results[i] != want[i] {
				t.Errorf("判定結果[%d] = %q, want %q", i, rec.results[i], want[i])
			}
		}
	})

	t.Run("対象外のパスは制限されないこと", func(t *testing.T) {
		t.Parallel()

		stage := RateLimit(RateLimitOptions{Limiter: newLimiter(t, 1), Prefixes: []string{"/api/"}})

		for range 3 {
			w := serveStages(httptest.NewRequest(http.MethodGet, "/health", nil), stage)
			if w.Code != http.StatusOK {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
			}
			if w.Header().Get("X-RateLimit-Limit") != "" {
				t.Error("対象外のパスにX-RateLimit-Limitが付いた")
			}
		}
	})

	t.Run("送信元ごとに独立して数えること", func(t *testing.T) {
		t.Parallel()

		stage := RateLimit(RateLimitOptions{Limiter: newLimiter(t, 1)})

		first := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		first.RemoteAddr = "10.0.0.1:1234"
		second := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		second.RemoteAddr = "10.0.0.2:1234"

		if w := serveStages(first, stage); w.Code != http.StatusOK {
			t.Errorf("10.0.0.1: ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if w := serveStages(second, stage); w.Code != http.StatusOK {
			t.Errorf("10.0.0.2: ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("保存先の失敗はFailOpenなら受け付けること", func(t *testing.T) {
		t.Parallel()

		rec := &resultRecorder{}
		stage := RateLimit(RateLimitOptions{Limiter: brokenLimiter{}, FailOpen: true, Observe: rec.observe})

		w := serveStages(httptest.NewRequest(http.MethodGet, "/api/x", nil), stage)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if len(rec.results) != 1 || rec.results[0] != RateLimitError {
			t.Errorf("判定結果 = %v, want [%s]", rec.results, RateLimitError)
		}
	})

	t.Run("保存先の失敗はFailOpenでなければ500になること", func(t *testing.T) {
		t.Parallel()

		stage := RateLimit(RateLimitOptions{Limiter: brokenLimiter{}})

		w := serveStages(httptest.NewRequest(http.MethodGet, "/api/x", nil), stage)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}
