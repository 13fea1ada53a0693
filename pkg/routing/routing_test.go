package routing

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
)

// mustParseURL はテスト用にURLをパースする。
func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("URLのパースに失敗: %v", err)
	}
	return u
}

// newTestTable は元の構成と同じ経路を持つテーブルを生成する。
func newTestTable(t *testing.T) *Table {
	t.Helper()

	revenue := mustParseURL(t, "http://revenue:8080")
	agents := mustParseURL(t, "http://agents:8081")
	generic := mustParseURL(t, "http://generic:9000")

	table, err := NewTable([]Entry{
		{Name: "health", Prefix: "/health", Methods: []string{http.MethodGet}},
		{Name: "login", Prefix: "/auth/login", Methods: []string{http.MethodPost}},
		{Name: "api", Prefix: "/api/", Target: generic, Protected: true},
		{Name: "revenue", Prefix: "/api/revenue", Target: revenue, Rewrite: &Rewrite{Replacement: "/revenue"}, Protected: true},
		{Name: "agents", Prefix: "/api/agents", Target: agents, Rewrite: &Rewrite{}, Protected: true},
		{Name: "public-revenue", Prefix: "/public/revenue", Target: revenue, Rewrite: &Rewrite{Replacement: "/revenue/current"}},
	})
	if err != nil {
		t.Fatalf("NewTable()でエラーが発生: %v", err)
	}
	return table
}

// TestResolve はResolveを検証する。
func TestResolve(t *testing.T) {
	t.Parallel()

	t.Run("重なる接頭辞では最長一致の経路が選ばれること", func(t *testing.T) {
		t.Parallel()

		m, err := newTestTable(t).Resolve(http.MethodGet, "/api/revenue/x")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if m.Entry.Name != "revenue" {
			t.Errorf("経路 = %q, want %q", m.Entry.Name, "revenue")
		}
		if m.Path != "/revenue/x" {
			t.Errorf("書き換え後のパス = %q, want %q", m.Path, "/revenue/x")
		}
	})

	t.Run("より具体的な経路が無い場合は短い接頭辞に一致すること", func(t *testing.T) {
		t.Parallel()

		m, err := newTestTable(t).Resolve(http.MethodPost, "/api/orders/1")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if m.Entry.Name != "api" {
			t.Errorf("経路 = %q, want %q", m.Entry.Name, "api")
		}
		if m.Path != "/api/orders/1" {
			t.Errorf("書き換え規則が無い経路のパスが変わった: %q", m.Path)
		}
	})

	t.Run("セグメント境界でのみ一致すること", func(t *testing.T) {
		t.Parallel()

		m, err := newTestTable(t).Resolve(http.MethodGet, "/api/revenuex")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if m.Entry.Name != "api" {
			t.Errorf("経路 = %q, want %q", m.Entry.Name, "api")
		}
	})

	t.Run("接頭辞の除去で空になったパスは/になること", func(t *testing.T) {
		t.Parallel()

		m, err := newTestTable(t).Resolve(http.MethodGet, "/api/agents")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if m.Path != "/" {
			t.Errorf("書き換え後のパス = %q, want %q", m.Path, "/")
		}

		m, err = newTestTable(t).Resolve(http.MethodGet, "/api/agents/run/42")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if m.Path != "/run/42" {
			t.Errorf("書き換え後のパス = %q, want %q", m.Path, "/run/42")
		}
	})

	t.Run("公開経路は認証不要で固定パスに書き換わること", func(t *testing.T) {
		t.Parallel()

		m, err := newTestTable(t).Resolve(http.MethodGet, "/public/revenue")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if m.Entry.Protected {
			t.Error("公開経路がProtectedになっている")
		}
		if m.Path != "/revenue/current" {
			t.Errorf("書き換え後のパス = %q, want %q", m.Path, "/revenue/current")
		}
	})

	t.Run("メソッドが一致しない直接応答経路は候補にならないこと", func(t *testing.T) {
		t.Parallel()

		_, err := newTestTable(t).Resolve(http.MethodPost, "/health")
		if !errors.Is(err, ErrNoRoute) {
			t.Errorf("err = %v, want ErrNoRoute", err)
		}

		m, err := newTestTable(t).Resolve(http.MethodGet, "/health")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if !m.Entry.Direct() {
			t.Error("healthが直接応答経路になっていない")
		}
	})

	t.Run("一致しないパスはErrNoRouteになること", func(t *testing.T) {
		t.Parallel()

		_, err := newTestTable(t).Resolve(http.MethodGet, "/nonexistent")
		if !errors.Is(err, ErrNoRoute) {
			t.Errorf("err = %v, want ErrNoRoute", err)
		}
	})

	t.Run("同じ長さの接頭辞では先に宣言された経路が選ばれること", func(t *testing.T) {
		t.Parallel()

		table, err := NewTable([]Entry{
			{Name: "first", Prefix: "/svc/", Target: mustParseURL(t, "http://first")},
			{Name: "second", Prefix: "/svc", Target: mustParseURL(t, "http://second")},
			{Name: "third", Prefix: "/svc/", Target: mustParseURL(t, "http://third")},
		})
		if err != nil {
			t.Fatalf("NewTable()でエラーが発生: %v", err)
		}

		m, err := table.Resolve(http.MethodGet, "/svc/a")
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if m.Entry.Name != "first" {
			t.Errorf("経路 = %q, want %q", m.Entry.Name, "first")
		}
	})
}

// TestNewTable はNewTableの検証処理を確認する。
func TestNewTable(t *testing.T) {
	t.Parallel()

	t.Run("不正な経路定義を拒否すること", func(t *testing.T) {
		t.Parallel()

		cases := map[string][]Entry{
			"名前なし":        {{Prefix: "/a"}},
			"名前の重複":       {{Name: "a", Prefix: "/a"}, {Name: "a", Prefix: "/b"}},
			"接頭辞が/で始まらない": {{Name: "a", Prefix: "a"}},
			"相対URL":       {{Name: "a", Prefix: "/a", Target: &url.URL{Path: "/x"}}},
			"未対応スキーム":     {{Name: "a", Prefix: "/a", Target: &url.URL{Scheme: "ftp", Host: "x"}}},
		}
		for name, entries := range cases {
			if _, err := NewTable(entries); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("%s: err = %v, want ErrInvalidEntry", name, err)
			}
		}
	})

	t.Run("Entriesは宣言順の複製を返すこと", func(t *testing.T) {
		t.Parallel()

		table := newTestTable(t)
		entries := table.Entries()
		if len(entries) != 6 || entries[0].Name != "health" {
			t.Fatalf("Entries() = %v", entries)
		}
		entries[0].Name = "changed"
		if table.Entries()[0].Name != "health" {
			t.Error("Entries()の戻り値の変更がテーブルに反映された")
		}
	})
}

// TestRewriteApply はRewrite.Applyを検証する。
func TestRewriteApply(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rw     Rewrite
		prefix string
		path   string
		want   string
	}{
		{Rewrite{Replacement: "/revenue"}, "/api/revenue", "/api/revenue", "/revenue"},
		{Rewrite{Replacement: "/revenue"}, "/api/revenue", "/api/revenue/daily", "/revenue/daily"},
		{Rewrite{Replacement: "/v2/"}, "/api/", "/api/items", "/v2/items"},
		{Rewrite{}, "/api/agents", "/api/agents/", "/"},
		{Rewrite{Replacement: "internal"}, "/x", "/x", "/internal"},
	}
	for _, c := range cases {
		if got := c.rw.Apply(c.prefix, c.path); got != c.want {
			t.Errorf("Apply(%q, %q) with %q = %q, want %q", c.prefix, c.path, c.rw.Replacement, got, c.want)
		}
	}
}

// TestHasPathPrefix はHasPathPrefixを検証する。
func TestHasPathPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path, prefix string
		want         bool
	}{
		{"/api/x", "/api/", true},
		{"/api", "/api/", true},
		{"/apix", "/api/", false},
		{"/anything", "/", true},
		{"/health", "/health", true},
		{"/healthz", "/health", false},
	}
	for _, c := range cases {
		if got := HasPathPrefix(c.path, c.prefix); got != c.want {
			t.Errorf("HasPathPrefix(%q, %q) = %v, want %v", c.path, c.prefix, got, c.want)
		}
	}
}
