// Package config はゲートウェイの設定を読み込み、検証する。
//
// 設定は組み込みの既定値、YAMLファイル、環境変数の順に重ねて読み込む。
// 後から読み込んだ値が優先される。
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 実行環境の名前。
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DefaultJWTSecret はJWT_SECRETが未設定の場合に使う秘密鍵。本番では必ず上書きすること。
const DefaultJWTSecret = "default-secret-change-me"

// Config はゲートウェイ全体の設定。
type Config struct {
	// Port はリッスンポート。
	Port int `koanf:"port"`
	// Env は実行環境。developmentの場合はエラー詳細を返し、ログをコンソール形式にする。
	Env string `koanf:"env"`
	// ShutdownTimeout は停止時に処理中のリクエストを待つ上限。
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	Service   ServiceConfig   `koanf:"service"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Redis     RedisConfig     `koanf:"redis"`
	CORS      CORSConfig      `koanf:"cors"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Log       LogConfig       `koanf:"log"`
	Tracing   TracingConfig   `koanf:"tracing"`
	// Routes は既定の経路に追加する経路。
	Routes []RouteConfig `koanf:"routes"`
}

// ServiceConfig はヘルスチェックやメトリクスに出すサービス情報。
type ServiceConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// AuthConfig はトークンとログインの設定。
type AuthConfig struct {
	// JWTSecret はHS256署名用の秘密鍵。
	JWTSecret string `koanf:"jwt_secret"`
	// TokenTTL は発行するトークンの有効期間。
	TokenTTL time.Duration `koanf:"token_ttl"`
	// UsersDB は利用者データベース（SQLite）のパス。空ならユーザー名とパスワードが空でなければ受け付ける。
	UsersDB string `koanf:"users_db"`
}

// RateLimitConfig はレート制限の設定。
type RateLimitConfig struct {
	Window      time.Duration `koanf:"window"`
	MaxRequests int           `koanf:"max"`
	// Prefixes は制限対象のパス接頭辞。
	Prefixes []string `koanf:"prefixes"`
	// KeyHeader は送信元キーに使うヘッダー。空なら接続元アドレス。
	KeyHeader string `koanf:"key_header"`
	// FailOpen はカウンタの保存先が失敗した場合に受け付けるかどうか。
	FailOpen bool `koanf:"fail_open"`
}

// RedisConfig はレート制限カウンタを共有するRedisの接続設定。
// Hostが空の場合はプロセス内のメモリに保存する。
type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Enabled はRedisを使う設定かどうかを返す。
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr はRedisの接続先アドレスを返す。
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// CORSConfig はCORSの設定。
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// UpstreamConfig はバックエンドへの転送設定。
type UpstreamConfig struct {
	// Timeout は1回の転送の上限時間。
	Timeout    time.Duration `koanf:"timeout"`
	RevenueURL string        `koanf:"revenue_url"`
	AgentsURL  string        `koanf:"agents_url"`
}

// LogConfig はログの設定。
type LogConfig struct {
	Level string `koanf:"level"`
}

// TracingConfig はトレースの設定。
type TracingConfig struct {
	Enabled bool `koanf:"enabled"`
}

// RouteConfig はYAMLで追加する経路の定義。
type RouteConfig struct {
	Name   string `koanf:"name"`
	Prefix string `koanf:"prefix"`
	Target string `koanf:"target"`
	// Rewrite は接頭辞の置き換え先。
	Rewrite string `koanf:"rewrite"`
	// StripPrefix がtrueなら接頭辞を取り除く。Rewriteより優先度は低い。
	StripPrefix bool     `koanf:"strip_prefix"`
	Protected   bool     `koanf:"protected"`
	Methods     []string `koanf:"methods"`
}

// Development は開発環境かどうかを返す。
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, EnvDevelopment)
}

// Addr はリッスンアドレスを返す。
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// UsesDefaultSecret は既定の秘密鍵のままかどうかを返す。
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.JWTSecret == DefaultJWTSecret
}

// Validate は設定値を検証し、見つかったすべての問題をまとめて返す。
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORTは1から65535の範囲である必要があります: %d", c.Port))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRETが空です"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTLは正の値である必要があります: %s", c.Auth.TokenTTL))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOWは正の値である必要があります: %s", c.RateLimit.Window))
	}
	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MAXは1以上である必要があります: %d", c.RateLimit.MaxRequests))
	}
	for _, p := range c.RateLimit.Prefixes {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_PREFIXESの %q は/で始まる必要があります", p))
		}
	}
	if c.Redis.Enabled() && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORTは1から65535の範囲である必要があります: %d", c.Redis.Port))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUTは正の値である必要があります: %s", c.Upstream.Timeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUTは正の値である必要があります: %s", c.ShutdownTimeout))
	}
	if err := validateServiceURL("REVENUE_SERVICE_URL", c.Upstream.RevenueURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateServiceURL("AGENTS_SERVICE_URL", c.Upstream.AgentsURL); err != nil {
		errs = append(errs, err)
	}
	for i, r := range c.Routes {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: nameが空です", i))
		}
		if !strings.HasPrefix(r.Prefix, "/") {
			errs = append(errs, fmt.Errorf("routes[%d]: prefix %q は/で始まる必要があります", i, r.Prefix))
		}
		if err := validateServiceURL(fmt.Sprintf("routes[%d].target", i), r.Target); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// validateServiceURL はhttp(s)の絶対URLかどうかを検証する。
func validateServiceURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%sのパースに失敗: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%sはhttp(s)の絶対URLである必要があります: %q", name, raw)
	}
	return nil
}
