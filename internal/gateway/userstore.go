package gateway

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/edgegate/pkg/auth"
	"github.com/nao1215/edgegate/pkg/migration"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// UserStore はSQLiteに保存した利用者でログインの資格情報を検証する。
type UserStore struct {
	db   *sql.DB
	cost int
	now  func() time.Time
}

// UserStoreOption はUserStoreの設定を変更する関数。
type UserStoreOption func(*UserStore)

// WithBcryptCost はパスワードハッシュのコストを設定する。
func WithBcryptCost(cost int) UserStoreOption {
	return func(s *UserStore) { s.cost = cost }
}

// OpenUserStore はpathのSQLiteデータベースを開き、マイグレーションを適用する。
// pathが":memory:"の場合はプロセス内のデータベースを使う。
func OpenUserStore(ctx context.Context, path string, logger *zap.Logger, opts ...UserStoreOption) (*UserStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みを直列化するため接続を1本に絞る
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := &UserStore{db: db, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveUser は利用者を登録する。既に存在する場合はパスワードとロールを更新する。
func (s *UserStore) SaveUser(ctx context.Context, username, password, role string) error {
	if username == "" || password == "" {
		return errors.New("ユーザー名とパスワードは必須です")
	}
	if role == "" {
		role = auth.DefaultRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash, role = excluded.role
	`, username, string(hash), role); err != nil {
		return fmt.Errorf("ユーザー %s の保存に失敗: %w", username, err)
	}
	return nil
}

// Verify はauth.CredentialVerifierを実装する。
// 成功した場合は最終ログイン時刻を更新する。
func (s *UserStore) Verify(ctx context.Context, username, password string) (*auth.Identity, error) {
	if username == "" || password == "" {
		return nil, auth.ErrInvalidCredentials
	}

	var hash, role string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash, role FROM users WHERE username = ?", username,
	).Scan(&hash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("パスワードの照合に失敗: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ? WHERE username = ?", s.now().UTC(), username,
	); err != nil {
		return nil, fmt.Errorf("最終ログイン時刻の更新に失敗: %w", err)
	}
	return &auth.Identity{Subject: username, Role: role}, nil
}

// LastLogin は最終ログイン時刻を返す。一度もログインしていない場合はゼロ値。
func (s *UserStore) LastLogin(ctx context.Context, username string) (time.Time, error) {
	var t sql.NullTime
	if err := s.db.QueryRowContext(ctx,
		"SELECT last_login_at FROM users WHERE username = ?", username,
	).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}
	return t.Time, nil
}

// Ping はデータベースへの接続を確認する。
func (s *UserStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (s *UserStore) Close() error {
	return s.db.Close()
}
