package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestSecurityHeaders はSecurityHeadersステージを検証する。
func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	t.Run("セキュリティヘッダーが設定され処理が続行すること", func(t *testing.T) {
		t.Parallel()

		w := serveStages(httptest.NewRequest(http.MethodGet, "/anything", nil), SecurityHeaders())

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		want := map[string]string{
			"X-Content-Type-Options":    "nosniff",
			"X-Frame-Options":           "SAMEORIGIN",
			"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
			"Referrer-Policy":           "no-referrer",
			"X-XSS-Protection":          "0",
		}
		for k, v := range want {
			if got := w.Header().Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		if w.Header().Get("Content-Security-Policy") == "" {
			t.Error("Content-Security-Policyが設定されていない")
		}
	})
}
