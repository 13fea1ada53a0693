// Package pipeline はリクエストを順序付きのステージ列で処理するパイプラインを提供する。
//
// 各ステージはContinueか終端の結果（応答、失敗、書き込み済み）を返し、
// 最初の終端でパイプラインは止まる。ステージが返した分類済みエラーは
// 最後に一度だけHTTPステータスとJSONボディに変換される。
// アクセスログとメトリクスの観測は成否に関わらずパイプラインの境界で行う。
package pipeline

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderRequestID はリクエストIDを受け渡すヘッダー。
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLength は受信したリクエストIDを引き継ぐ最大長。
const maxRequestIDLength = 128

// Observer はレスポンス完了時に呼ばれる。
type Observer func(c *Context, status int, elapsed time.Duration)

// Pipeline は順序付きのステージ列。
type Pipeline struct {
	stages    []Stage
	logger    *zap.Logger
	verbose   bool
	clientKey func(*http.Request) string
	observers []Observer
}

// Option はPipelineの設定を変更する関数。
type Option func(*Pipeline)

// WithLogger はアクセスログとエラーログの出力先を設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithVerboseErrors はクライアント向けエラーに内部の詳細を含めるかどうかを設定する。
func WithVerboseErrors(verbose bool) Option {
	return func(p *Pipeline) { p.verbose = verbose }
}

// WithClientKey は送信元キーの導出方法を設定する。
func WithClientKey(fn func(*http.Request) string) Option {
	return func(p *Pipeline) { p.clientKey = fn }
}

// WithObserver はレスポンス完了時の観測処理を追加する。
func WithObserver(obs Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, obs) }
}

// New はステージ列からPipelineを生成する。ステージは渡した順に実行する。
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:    append([]Stage(nil), stages...),
		logger:    zap.NewNop(),
		clientKey: remoteHost,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages はステージ名を実行順に返す。
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Handler はパイプラインを実行するGinハンドラを返す。
func (p *Pipeline) Handler() gin.HandlerFunc {
	return p.serve
}

// serve は1リクエストを処理する。
func (p *Pipeline) serve(c *gin.Context) {
	rc := &Context{
		Gin:       c,
		RequestID: requestID(c.Request),
		ClientKey: p.clientKey(c.Request),
		StartedAt: time.Now(),
	}
	c.Header(HeaderRequestID, rc.RequestID)

	defer func() {
		elapsed := time.Since(rc.StartedAt)
		status := c.Writer.Status()
		p.logAccess(rc, status, elapsed)
		for _, obs := range p.observers {
			obs(rc, status, elapsed)
		}
	}()

	p.finalize(rc, p.run(rc))
}

// run はステージを順に実行し、最初の終端結果を返す。
// ステージ内のパニックはInternalとして扱う。
func (p *Pipeline) run(rc *Context) (out Outcome) {
	current := ""
	defer func() {
		if r := recover(); r != nil {
			// ストリーミング中の中断は接続を閉じるためにnet/httpへ戻す
			if r == http.ErrAbortHandler {
				panic(r)
			}
			out = Fail(NewError(KindInternal, fmt.Errorf("ステージ %s でパニック: %v", current, r)))
		}
	}()

	for _, s := range p.stages {
		current = s.Name()
		if o := s.Process(rc); o.Terminal() {
			return o
		}
	}
	return Fail(NewError(KindNoRoute, nil))
}

// finalize は終端結果をレスポンスに変換する。
func (p *Pipeline) finalize(rc *Context, out Outcome) {
	switch out.action {
	case actionHandled:
		return
	case actionRespond:
		if out.body == nil {
			rc.Gin.Status(out.status)
			rc.Gin.Writer.WriteHeaderNow()
			return
		}
		rc.Gin.JSON(out.status, out.body)
	case actionFail:
		p.writeError(rc, out.err)
	default:
		p.writeError(rc, NewError(KindInternal, fmt.Errorf("終端でない結果で終了しました")))
	}
}

// writeError は分類済みエラーをログに出し、JSONで応答する。
func (p *Pipeline) writeError(rc *Context, err *Error) {
	fields := []zap.Field{
		zap.String("kind", string(err.Kind)),
		zap.String("method", rc.Method()),
		zap.String("path", rc.Path()),
		zap.String("request_id", rc.RequestID),
	}
	if err.Kind == KindInternal {
		p.logger.Error("内部エラーが発生しました", append(fields, zap.Error(err.Cause))...)
	} else {
		p.logger.Debug("リクエストを拒否しました", append(fields, zap.Error(err.Cause))...)
	}

	WriteError(rc.Gin, err, p.verbose)
}

// WriteError は分類済みエラーをJSONボディで書き込む。
// verboseがtrueの場合のみ内部の原因をmessageとして含める。
// ヘッダー送信済みの場合は何も書かない。
func WriteError(c *gin.Context, err *Error, verbose bool) {
	if c.Writer.Written() {
		return
	}
	body := gin.H{"error": err.Kind.Message()}
	if verbose && err.Cause != nil {
		body["message"] = err.Cause.Error()
	}
	c.AbortWithStatusJSON(err.StatusCode(), body)
}

// logAccess はアクセスログを出力する。
func (p *Pipeline) logAccess(rc *Context, status int, elapsed time.Duration) {
	p.logger.Info("http request",
		zap.String("method", rc.Method()),
		zap.String("path", rc.Path()),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.String("client", rc.ClientKey),
		zap.String("request_id", rc.RequestID),
	)
}

// requestID は受信したリクエストIDを引き継ぐか、新たに採番する。
func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderRequestID)); id != "" && len(id) <= maxRequestIDLength {
		return id
	}
	return uuid.NewString()
}

// remoteHost は接続元アドレスのホスト部分を返す。
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
