package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnv はYAML設定ファイルのパスを指定する環境変数。
const ConfigPathEnv = "GATEWAY_CONFIG"

// defaults は組み込みの既定値。
var defaults = map[string]any{
	"port":                 5000,
	"env":                  EnvProduction,
	"shutdown_timeout":     10 * time.Second,
	"service.name":         "api-gateway",
	"service.version":      "1.0.0",
	"auth.jwt_secret":      DefaultJWTSecret,
	"auth.token_ttl":       24 * time.Hour,
	"auth.users_db":        "",
	"ratelimit.window":     15 * time.Minute,
	"ratelimit.max":        100,
	"ratelimit.prefixes":   []string{"/api/"},
	"ratelimit.key_header": "",
	"ratelimit.fail_open":  true,
	"redis.host":           "",
	"redis.port":           6379,
	"redis.password":       "",
	"redis.db":             0,
	"cors.allowed_origins": []string{"*"},
	"upstream.timeout":     30 * time.Second,
	"upstream.revenue_url": "http://revenue-aggregator-service:8080",
	"upstream.agents_url":  "http://ai-agent-hub-service:8081",
	"log.level":            "info",
	"tracing.enabled":      false,
}

// envKeys は環境変数名と設定キーの対応。
var envKeys = map[string]string{
	"PORT":                  "port",
	"GATEWAY_ENV":           "env",
	"SHUTDOWN_TIMEOUT":      "shutdown_timeout",
	"SERVICE_NAME":          "service.name",
	"SERVICE_VERSION":       "service.version",
	"JWT_SECRET":            "auth.jwt_secret",
	"TOKEN_TTL":             "auth.token_ttl",
	"AUTH_USERS_DB":         "auth.users_db",
	"RATE_LIMIT_WINDOW":     "ratelimit.window",
	"RATE_LIMIT_MAX":        "ratelimit.max",
	"RATE_LIMIT_PREFIXES":   "ratelimit.prefixes",
	"RATE_LIMIT_KEY_HEADER": "ratelimit.key_header",
	"RATE_LIMIT_FAIL_OPEN":  "ratelimit.fail_open",
	"REDIS_HOST":            "redis.host",
	"REDIS_PORT":            "redis.port",
	"REDIS_PASSWORD":        "redis.password",
	"REDIS_DB":              "redis.db",
	"CORS_ALLOWED_ORIGINS":  "cors.allowed_origins",
	"UPSTREAM_TIMEOUT":      "upstream.timeout",
	"REVENUE_SERVICE_URL":   "upstream.revenue_url",
	"AGENTS_SERVICE_URL":    "upstream.agents_url",
	"LOG_LEVEL":             "log.level",
	"TRACING_ENABLED":       "tracing.enabled",
}

// listKeys はカンマ区切りで複数の値を受け付ける設定キー。
var listKeys = map[string]struct{}{
	"ratelimit.prefixes":   {},
	"cors.allowed_origins": {},
}

// Load は既定値、GATEWAY_CONFIGが指すYAMLファイル、環境変数の順に設定を読み込む。
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnv))
}

// LoadFile は既定値、pathのYAMLファイル、環境変数の順に設定を読み込み、検証する。
// pathが空の場合はファイルを読まない。
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("既定値 %s の設定に失敗: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}
	return &cfg, nil
}

// envValue は環境変数を設定キーと値に変換する。
// 対応表に無い変数と空の値は読み飛ばす。
func envValue(name, value string) (string, any) {
	key, ok := envKeys[name]
	if !ok || strings.TrimSpace(value) == "" {
		return "", nil
	}
	if _, ok := listKeys[key]; ok {
		return key, splitList(value)
	}
	return key, strings.TrimSpace(value)
}

// splitList はカンマ区切りの値を分割し、空の要素を取り除く。
func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
