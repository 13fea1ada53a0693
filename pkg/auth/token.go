package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL はトークンの既定の有効期間。
const DefaultTokenTTL = 24 * time.Hour

// tokenIssuer はトークンのissクレームに設定する発行者名。
const tokenIssuer = "api-gateway"

var (
	// ErrMissingToken はAuthorizationヘッダーが無い、またはBearer形式でないことを表す。
	ErrMissingToken = errors.New("アクセストークンがありません")
	// ErrInvalidToken は署名不一致、形式不正、有効期限切れのいずれかを表す。
	// 呼び出し元に検証の内部事情を漏らさないため、原因は区別しない。
	ErrInvalidToken = errors.New("アクセストークンが無効です")
)

// Identity は検証済みトークンから取り出した利用者情報。
// 一度デコードされた後は変更しない。
type Identity struct {
	// Subject は利用者の識別子（ログイン時のユーザー名）。
	Subject string
	// Role は利用者のロール。
	Role string
	// IssuedAt はトークンの発行時刻。
	IssuedAt time.Time
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Claims はゲートウェイが発行するJWTのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// Username はログイン時のユーザー名。
	Username string `json:"username"`
	// Role は利用者のロール。
	Role string `json:"role"`
}

// Validator はBearerトークンの発行と検証を行う。
// 状態を持たないため、複数のgoroutineから同時に利用できる。
type Validator struct {
	// secret はHS256署名用の秘密鍵。
	secret []byte
	// ttl は発行するトークンの有効期間。
	ttl time.Duration
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// ValidatorOption はValidatorの設定を変更する関数。
type ValidatorOption func(*Validator)

// WithClock は検証と発行に使う時計を差し替える。
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator は新しいValidatorを生成する。
// ttlが0以下の場合はDefaultTokenTTLを使う。
func NewValidator(secret string, ttl time.Duration, opts ...ValidatorOption) *Validator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	v := &Validator{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// TTL は発行するトークンの有効期間を返す。
func (v *Validator) TTL() time.Duration {
	return v.ttl
}

// Issue は利用者に対して署名済みトークンを発行する。
func (v *Validator) Issue(subject, role string) (string, *Identity, error) {
	now := v.now().Truncate(time.Second)
	expiresAt := now.Add(v.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: subject,
		Role:     role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", nil, fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}

	return signed, &Identity{
		Subject:   subject,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate はトークンの署名と有効期限を検証し、利用者情報を返す。
// 失敗した場合は常にErrInvalidTokenをラップしたエラーを返す。
func (v *Validator) Validate(tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.Username
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: subjectがありません", ErrInvalidToken)
	}

	identity := &Identity{
		Subject:   subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	return identity, nil
}

// bearerPrefix はAuthorizationヘッダーのBearerスキーム。大文字小文字は区別しない。
const bearerPrefix = "Bearer "

// BearerToken はAuthorizationヘッダーの値からトークン部分を取り出す。
// ヘッダーが空、またはBearer形式でない場合はErrMissingTokenを返す。
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
