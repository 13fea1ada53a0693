// gateway-useradd はログイン用の利用者データベースに利用者を登録するコマンド。
//
// 使い方:
//
//	gateway-useradd -db /data/users.db -user alice -role admin
//
// パスワードは環境変数GATEWAY_USER_PASSWORDまたは標準入力の1行目から読み込む。
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nao1215/edgegate/internal/gateway"
	"github.com/nao1215/edgegate/pkg/auth"
	"github.com/nao1215/edgegate/pkg/logging"
)

// passwordEnv はパスワードを渡す環境変数。
const passwordEnv = "GATEWAY_USER_PASSWORD"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gateway-useradd: %v\n", err)
		os.Exit(1)
	}
}

// run はフラグを解釈して利用者を登録する。
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("gateway-useradd", flag.ContinueOnError)
	dbPath := fs.String("db", os.Getenv("AUTH_USERS_DB"), "利用者データベースのパス")
	username := fs.String("user", "", "登録するユーザー名")
	role := fs.String("role", auth.DefaultRole, "割り当てるロール")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("-dbまたはAUTH_USERS_DBでデータベースのパスを指定してください")
	}
	if *username == "" {
		return errors.New("-userでユーザー名を指定してください")
	}

	password, err := readPassword(stdin)
	if err != nil {
		return err
	}

	logger, err := logging.New("warn", false)
	if err != nil {
		return err
	}
	store, err := gateway.OpenUserStore(ctx, *dbPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveUser(ctx, *username, password, *role); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ユーザー %s をロール %s で登録しました\n", *username, *role)
	return nil
}

// readPassword は環境変数、無ければ標準入力の1行目からパスワードを読み込む。
func readPassword(stdin io.Reader) (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("パスワードの読み込みに失敗: %w", err)
	}
	if p := strings.TrimRight(line, "\r\n"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("パスワードを%sまたは標準入力で指定してください", passwordEnv)
}
