package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// unknownKey は送信元を特定できない場合のキー。
const unknownKey = "unknown"

// KeyFunc はリクエストからレート制限のキーを導出する。
// キーは不透明な文字列として扱われるため、導出方法は差し替えられる。
type KeyFunc func(r *http.Request) string

// RemoteAddrKey は接続元アドレス（ポートを除く）をキーにする。
func RemoteAddrKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return unknownKey
}

// HeaderKey は指定ヘッダーの値をキーにするKeyFuncを返す。
// 信頼できるリバースプロキシの背後に置く構成でのみ使うこと。
// X-Forwarded-Forのようにカンマ区切りの場合は先頭（元のクライアント）を使う。
// ヘッダーが無い場合はRemoteAddrKeyにフォールバックする。
func HeaderKey(header string) KeyFunc {
	if header == "" {
		return RemoteAddrKey
	}
	return func(r *http.Request) string {
		v := r.Header.Get(header)
		if first, _, _ := strings.Cut(v, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
		return RemoteAddrKey(r)
	}
}
