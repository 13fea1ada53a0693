package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nao1215/edgegate/pkg/pipeline"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// バックエンドに利用者情報を伝えるヘッダー。
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// upstreamErrorTimeout と upstreamErrorUnavailable はバックエンド失敗の種類。
const (
	upstreamErrorTimeout     = "timeout"
	upstreamErrorUnavailable = "unavailable"
)

// Forwarder は解決済みの経路のバックエンドへリクエストを転送する。
// レスポンスボディはバッファせずにクライアントへ流す。再試行はしない。
type Forwarder struct {
	transport http.RoundTripper
	timeout   time.Duration
	logger    *zap.Logger
	onError   func(route, kind string)
}

// NewForwarder はForwarderを生成する。
// transportがnilの場合はhttp.DefaultTransportの複製をOpenTelemetryで計装して使う。
func NewForwarder(transport http.RoundTripper, timeout time.Duration, logger *zap.Logger, onError func(route, kind string)) *Forwarder {
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if onError == nil {
		onError = func(string, string) {}
	}
	return &Forwarder{
		transport: transport,
		timeout:   timeout,
		logger:    logger,
		onError:   onError,
	}
}

// Forward はリクエストをバックエンドへ転送する。
// 転送に失敗した場合は、タイムアウトなら504、それ以外は502の分類済みエラーを返す。
func (f *Forwarder) Forward(c *pipeline.Context) pipeline.Outcome {
	match := c.Route
	target := match.Entry.Target

	// タイムアウトはレスポンスヘッダーの受信までに限り、ボディの転送中は打ち切らない
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	var timedOut atomic.Bool
	timer := time.AfterFunc(f.timeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()

	var proxyErr error
	written := c.Gin.Writer.Header()
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = strings.TrimSuffix(target.Path, "/") + match.Path
			pr.Out.URL.RawPath = ""
			pr.Out.Host = ""
			pr.SetXForwarded()

			pr.Out.Header.Set(pipeline.HeaderRequestID, c.RequestID)
			pr.Out.Header.Del(headerUserID)
			pr.Out.Header.Del(headerUserRole)
			if c.Identity != nil {
				pr.Out.Header.Set(headerUserID, c.Identity.Subject)
				if c.Identity.Role != "" {
					pr.Out.Header.Set(headerUserRole, c.Identity.Role)
				}
			}
		},
		Transport: f.transport,
		// バックエンドが返したヘッダーをゲートウェイが設定した同名のヘッダーより優先する
		ModifyResponse: func(resp *http.Response) error {
			if !timer.Stop() {
				return context.DeadlineExceeded
			}
			for key := range resp.Header {
				written.Del(key)
			}
			return nil
		},
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			proxyErr = err
		},
		ErrorLog: zap.NewStdLog(f.logger),
	}

	rp.ServeHTTP(c.Gin.Writer, c.Request().WithContext(ctx))

	if proxyErr == nil {
		return pipeline.Handled()
	}

	kind, status := upstreamErrorUnavailable, http.StatusBadGateway
	if timedOut.Load() || isTimeout(proxyErr) {
		kind, status = upstreamErrorTimeout, http.StatusGatewayTimeout
	}
	f.onError(match.Entry.Name, kind)
	f.logger.Warn("バックエンドへの転送に失敗しました",
		zap.String("route", match.Entry.Name),
		zap.String("target", target.String()),
		zap.String("kind", kind),
		zap.String("request_id", c.RequestID),
		zap.Error(proxyErr),
	)
	return pipeline.Fail(pipeline.NewError(pipeline.KindUpstreamUnavailable, proxyErr).WithStatus(status))
}

// isTimeout はバックエンド呼び出しのタイムアウトかどうかを返す。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
