// Package routing はリクエストパスからバックエンドサービスを解決するルーティングテーブルを提供する。
//
// パス接頭辞の最長一致で経路を選び、同じ長さの接頭辞が複数ある場合は
// 先に宣言された経路を優先する。テーブルは起動時に一度だけ構築され、
// リクエスト処理中は読み取り専用である。
package routing

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

var (
	// ErrNoRoute はパスに一致する経路が無いことを表す。
	ErrNoRoute = errors.New("一致する経路がありません")
	// ErrInvalidEntry は経路定義が不正であることを表す。
	ErrInvalidEntry = errors.New("経路定義が不正です")
)

// Rewrite はバックエンドに送るパスの書き換え規則。
// 経路の接頭辞部分をReplacementに置き換える。Replacementが空なら接頭辞を取り除く。
type Rewrite struct {
	// Replacement は接頭辞の置き換え先。
	Replacement string
}

// Apply はpathの接頭辞prefixを書き換える。結果は常に"/"で始まる。
func (rw Rewrite) Apply(prefix, path string) string {
	rest := strings.TrimPrefix(path, strings.TrimSuffix(prefix, "/"))
	replacement := rw.Replacement
	if rest != "" {
		replacement = strings.TrimSuffix(replacement, "/")
	}

	out := replacement + rest
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// Entry は1つの経路定義。
type Entry struct {
	// Name は経路の名前。ログやメトリクスのラベルに使う。
	Name string
	// Prefix は一致させるパス接頭辞。
	Prefix string
	// Target は転送先のベースURL。nilの場合はゲートウェイ自身が応答する経路。
	Target *url.URL
	// Rewrite はパスの書き換え規則。nilの場合はパスをそのまま転送する。
	Rewrite *Rewrite
	// Protected は認証済みの利用者のみ通す経路かどうか。
	Protected bool
	// Methods は受け付けるHTTPメソッド。空なら全メソッド。
	Methods []string
}

// Direct はゲートウェイ自身が応答する経路かどうかを返す。
func (e Entry) Direct() bool {
	return e.Target == nil
}

// allowsMethod はメソッドを受け付けるかどうかを返す。
func (e Entry) allowsMethod(method string) bool {
	if len(e.Methods) == 0 {
		return true
	}
	return slices.ContainsFunc(e.Methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}

// rewrite はバックエンドに送るパスを返す。
func (e Entry) rewrite(path string) string {
	if e.Rewrite == nil {
		return path
	}
	return e.Rewrite.Apply(e.Prefix, path)
}

// Match は解決結果。
type Match struct {
	// Entry は一致した経路。
	Entry Entry
	// Path は書き換え後のパス。
	Path string
}

// Table は経路定義の順序付き集合。
type Table struct {
	entries []Entry
}

// NewTable は経路定義を検証してテーブルを構築する。
func NewTable(entries []Entry) (*Table, error) {
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: %d番目の経路に名前がありません", ErrInvalidEntry, i)
		}
		if _, ok := seen[e.Name]; ok {
			return nil, fmt.Errorf("%w: 経路名 %q が重複しています", ErrInvalidEntry, e.Name)
		}
		seen[e.Name] = struct{}{}

		if !strings.HasPrefix(e.Prefix, "/") {
			return nil, fmt.Errorf("%w: 経路 %q の接頭辞 %q は/で始まる必要があります", ErrInvalidEntry, e.Name, e.Prefix)
		}
		if e.Target != nil && (e.Target.Host == "" || (e.Target.Scheme != "http" && e.Target.Scheme != "https")) {
			return nil, fmt.Errorf("%w: 経路 %q の転送先 %q はhttp(s)の絶対URLである必要があります", ErrInvalidEntry, e.Name, e.Target)
		}
	}

	return &Table{entries: slices.Clone(entries)}, nil
}

// Entries は経路定義の複製を宣言順に返す。
func (t *Table) Entries() []Entry {
	return slices.Clone(t.entries)
}

// Resolve はメソッドとパスに一致する経路を最長一致で選び、書き換え後のパスを返す。
func (t *Table) Resolve(method, path string) (*Match, error) {
	best := -1
	for i, e := range t.entries {
		if !HasPathPrefix(path, e.Prefix) || !e.allowsMethod(method) {
			continue
		}
		// 同じ長さなら先に宣言された経路を残す
		if best < 0 || len(e.Prefix) > len(t.entries[best].Prefix) {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoRoute, method, path)
	}

	e := t.entries[best]
	return &Match{Entry: e, Path: e.rewrite(path)}, nil
}

// HasPathPrefix はpathがprefixのセグメント境界で始まるかどうかを返す。
// "/api/revenue" は "/api/revenue" と "/api/revenue/x" に一致し、"/api/revenuex" には一致しない。
func HasPathPrefix(path, prefix string) bool {
	base := strings.TrimSuffix(prefix, "/")
	return path == base || strings.HasPrefix(path, base+"/")
}
