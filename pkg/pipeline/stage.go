package pipeline

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/auth"
	"github.com/nao1215/edgegate/pkg/routing"
)

// Context は1リクエスト分の処理状態。
// パイプラインの1回の呼び出しだけが所有し、リクエスト間で共有しない。
type Context struct {
	// Gin は元のGinコンテキスト。
	Gin *gin.Context
	// RequestID はリクエストの識別子。
	RequestID string
	// ClientKey は送信元を表すキー。レート制限に使う。
	ClientKey string
	// StartedAt は処理開始時刻。
	StartedAt time.Time
	// Route は経路解決の結果。解決前はnil。
	Route *routing.Match
	// Identity は認証済みの利用者。認証に成功するまではnil。
	Identity *auth.Identity
}

// Request は元のHTTPリクエストを返す。
func (c *Context) Request() *http.Request {
	return c.Gin.Request
}

// Method はHTTPメソッドを返す。
func (c *Context) Method() string {
	return c.Gin.Request.Method
}

// Path はリクエストパスを返す。
func (c *Context) Path() string {
	return c.Gin.Request.URL.Path
}

// Header はレスポンスヘッダーを設定する。
func (c *Context) Header(key, value string) {
	c.Gin.Header(key, value)
}

// action はOutcomeの種類。
type action int

const (
	actionContinue action = iota
	actionRespond
	actionFail
	actionHandled
)

// Outcome はステージの処理結果。
// Continue以外は終端であり、以降のステージは実行されない。
type Outcome struct {
	action action
	status int
	body   any
	err    *Error
}

// Continue は次のステージへ進むことを表す。
func Continue() Outcome {
	return Outcome{action: actionContinue}
}

// Respond はステータスとJSONボディで応答して終了することを表す。
// bodyがnilの場合はボディを書かない。
func Respond(status int, body any) Outcome {
	return Outcome{action: actionRespond, status: status, body: body}
}

// Fail は分類済みエラーで終了することを表す。
func Fail(err *Error) Outcome {
	return Outcome{action: actionFail, err: err}
}

// Handled はステージ自身がレスポンスを書き終えたことを表す。
func Handled() Outcome {
	return Outcome{action: actionHandled}
}

// Terminal は終端の結果かどうかを返す。
func (o Outcome) Terminal() bool {
	return o.action != actionContinue
}

// Err は失敗した場合のエラーを返す。
func (o Outcome) Err() *Error {
	return o.err
}

// Status は応答する場合のステータスを返す。
func (o Outcome) Status() int {
	return o.status
}

// Stage はパイプラインを構成する1段の処理。
type Stage interface {
	// Name はログに出すステージ名。
	Name() string
	// Process はリクエストを処理し、続行か終了かを返す。
	Process(c *Context) Outcome
}

// funcStage は関数をStageとして扱うアダプタ。
type funcStage struct {
	name string
	fn   func(*Context) Outcome
}

func (s funcStage) Name() string               { return s.name }
func (s funcStage) Process(c *Context) Outcome { return s.fn(c) }

// StageFunc は関数からStageを生成する。
func StageFunc(name string, fn func(*Context) Outcome) Stage {
	return funcStage{name: name, fn: fn}
}
