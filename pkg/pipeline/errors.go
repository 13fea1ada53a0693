package pipeline

import (
	"fmt"
	"net/http"
)

// Kind はゲートウェイが返すエラーの分類。
type Kind string

const (
	// KindMissingToken はAuthorizationヘッダーが無い、または形式不正。
	KindMissingToken Kind = "MissingToken"
	// KindInvalidToken はトークンの署名不一致、形式不正、期限切れ。
	KindInvalidToken Kind = "InvalidToken"
	// KindRateLimited はレート制限による拒否。
	KindRateLimited Kind = "RateLimited"
	// KindNoRoute は一致する経路が無い。
	KindNoRoute Kind = "NoRoute"
	// KindUpstreamUnavailable はバックエンドに到達できない、またはタイムアウト。
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	// KindMalformedRequest は認証系エンドポイントへの不正なリクエストボディ。
	KindMalformedRequest Kind = "MalformedRequest"
	// KindInternal はゲートウェイ内部の想定外の失敗。
	KindInternal Kind = "Internal"
)

// kindInfo は分類ごとのHTTPステータスとクライアント向けメッセージ。
var kindInfo = map[Kind]struct {
	status  int
	message string
}{
	KindMissingToken:        {http.StatusUnauthorized, "Access token required"},
	KindInvalidToken:        {http.StatusForbidden, "Invalid token"},
	KindRateLimited:         {http.StatusTooManyRequests, "Too many requests from this IP"},
	KindNoRoute:             {http.StatusNotFound, "Endpoint not found"},
	KindUpstreamUnavailable: {http.StatusBadGateway, "Upstream service unavailable"},
	KindMalformedRequest:    {http.StatusBadRequest, "Malformed request body"},
	KindInternal:            {http.StatusInternalServerError, "Internal server error"},
}

// Status は分類に対応するHTTPステータスを返す。
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Message は分類に対応するクライアント向けメッセージを返す。
func (k Kind) Message() string {
	if info, ok := kindInfo[k]; ok {
		return info.message
	}
	return kindInfo[KindInternal].message
}

// Error はステージが返す分類済みのエラー。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// Status は分類の既定ステータスを上書きする場合に設定する。0なら既定値。
	Status int
	// Cause は内部の原因。クライアントには詳細エラー表示が有効な場合のみ返す。
	Cause error
}

// NewError は分類と原因からErrorを生成する。
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithStatus はステータスを上書きしたErrorを返す。
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// StatusCode はクライアントに返すHTTPステータスを返す。
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

// Unwrap は内部の原因を返す。
func (e *Error) Unwrap() error {
	return e.Cause
}
