package migration

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

// openTestDB はテスト用のインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("データベース接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestRun はRunを検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_role.up.sql":       {Data: []byte("ALTER TABLE items ADD COLUMN role TEXT NOT NULL DEFAULT 'user';")},
		"migrations/000001_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                    {Data: []byte("ignored")},
	}

	t.Run("未適用のマイグレーションをバージョン順に適用すること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		db := openTestDB(t)

		applied, err := Run(ctx, db, fsys, "migrations", nil)
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if len(applied) != 2 || applied[0] != 1 || applied[1] != 2 {
			t.Errorf("適用したバージョン = %v, want [1 2]", applied)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO items (id, role) VALUES ('a', 'admin')"); err != nil {
			t.Errorf("適用後のテーブルに書き込めない: %v", err)
		}

		v, err := Version(ctx, db)
		if err != nil {
			t.Fatalf("Version()でエラーが発生: %v", err)
		}
		if v != 2 {
			t.Errorf("Version() = %d, want 2", v)
		}
	})

	t.Run("2回目の実行では何も適用しないこと", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		db := openTestDB(t)

		if _, err := Run(ctx, db, fsys, "migrations", nil); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		applied, err := Run(ctx, db, fsys, "migrations", nil)
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if len(applied) != 0 {
			t.Errorf("適用したバージョン = %v, want []", applied)
		}
	})

	t.Run("SQLが失敗した場合はバージョンを記録しないこと", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		db := openTestDB(t)
		broken := fstest.MapFS{
			"m/000001_ok.up.sql":     {Data: []byte("CREATE TABLE a (id INTEGER);")},
			"m/000002_broken.up.sql": {Data: []byte("CREATE TABLE;")},
		}

		applied, err := Run(ctx, db, broken, "m", nil)
		if err == nil {
			t.Fatal("不正なSQLでエラーが返らなかった")
		}
		if len(applied) != 1 {
			t.Errorf("適用したバージョン = %v, want [1]", applied)
		}
		if v, _ := Version(ctx, db); v != 1 {
			t.Errorf("Version() = %d, want 1", v)
		}
	})

	t.Run("バージョンが重複している場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		dup := fstest.MapFS{
			"m/000001_a.up.sql": {Data: []byte("SELECT 1;")},
			"m/1_b.up.sql":      {Data: []byte("SELECT 1;")},
		}
		_, err := Run(context.Background(), openTestDB(t), dup, "m", nil)
		if !errors.Is(err, ErrDuplicateVersion) {
			t.Errorf("err = %v, want ErrDuplicateVersion", err)
		}
	})
}
