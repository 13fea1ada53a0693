package auth

import (
	"context"
	"errors"
)

// DefaultRole はロールを持たない利用者に割り当てるロール。
const DefaultRole = "user"

// ErrInvalidCredentials はユーザー名またはパスワードが受け付けられないことを表す。
var ErrInvalidCredentials = errors.New("資格情報が不正です")

// CredentialVerifier はログイン時の資格情報を検証する。
// 成功した場合はトークンに載せる利用者情報を返す。
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*Identity, error)
}

// AcceptNonEmpty は空でないユーザー名とパスワードの組をすべて受け付ける。
// 実際の資格情報は確認しないため、開発環境や外部IdPを前段に置く構成専用。
type AcceptNonEmpty struct {
	// Role は発行する利用者に割り当てるロール。空ならDefaultRole。
	Role string
}

// Verify はCredentialVerifierを実装する。
func (a AcceptNonEmpty) Verify(_ context.Context, username, password string) (*Identity, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	role := a.Role
	if role == "" {
		role = DefaultRole
	}
	return &Identity{Subject: username, Role: role}, nil
}
