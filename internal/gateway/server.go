package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/pkg/auth"
	"github.com/nao1215/edgegate/pkg/middleware"
	"github.com/nao1215/edgegate/pkg/pipeline"
	"github.com/nao1215/edgegate/pkg/ratelimit"
	"github.com/nao1215/edgegate/pkg/routing"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	// engine はパイプラインを載せたGinエンジン。
	engine *gin.Engine
	// handler はengineをOpenTelemetryで計装したハンドラ。
	handler   http.Handler
	pipeline  *pipeline.Pipeline
	table     *routing.Table
	validator *auth.Validator
	verifier  auth.CredentialVerifier
	limiter   ratelimit.Limiter
	metrics   *Metrics
	forwarder *Forwarder
	// closers は停止時に閉じる資源。登録の逆順に閉じる。
	closers []func() error
}

// Option はServerの設定を変更する関数。
type Option func(*serverOptions)

type serverOptions struct {
	limiter   ratelimit.Limiter
	verifier  auth.CredentialVerifier
	transport http.RoundTripper
	now       func() time.Time
}

// WithLimiter はレート制限器を差し替える。設定からの生成は行わない。
// 渡したLimiterはServerのCloseで閉じられる。
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *serverOptions) { o.limiter = l }
}

// WithVerifier はログインの資格情報の検証方法を差し替える。
func WithVerifier(v auth.CredentialVerifier) Option {
	return func(o *serverOptions) { o.verifier = v }
}

// WithTransport はバックエンドへの転送に使うRoundTripperを差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(o *serverOptions) { o.transport = rt }
}

// WithClock はトークンの発行と検証に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// NewServer は設定からGatewayサーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &serverOptions{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		validator: auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, auth.WithClock(o.now)),
		metrics:   NewMetrics(time.Now()),
	}

	if cfg.UsesDefaultSecret() {
		logger.Warn("JWT_SECRETが既定値のままです。本番環境では必ず変更してください")
	}

	table, err := buildRoutes(cfg)
	if err != nil {
		return nil, err
	}
	s.table = table

	s.limiter = o.limiter
	if s.limiter == nil {
		if s.limiter, err = newLimiter(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}
	s.closers = append(s.closers, s.limiter.Close)

	s.verifier = o.verifier
	if s.verifier == nil {
		if s.verifier, err = s.newVerifier(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.forwarder = NewForwarder(o.transport, cfg.Upstream.Timeout, logger, s.metrics.ObserveUpstreamError)
	s.pipeline = s.newPipeline()

	engine := gin.New()
	engine.Use(middleware.Recovery(logger, cfg.Development()))
	engine.Any("/*path", s.pipeline.Handler())
	s.engine = engine
	s.handler = otelhttp.NewHandler(engine, cfg.Service.Name,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	return s, nil
}

// newLimiter はREDIS_HOSTが設定されていればRedis、そうでなければメモリのレート制限器を生成する。
func newLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, error) {
	rlCfg := ratelimit.Config{MaxRequests: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.Window}

	if !cfg.Redis.Enabled() {
		l, err := ratelimit.NewMemoryLimiter(rlCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("レート制限のカウンタをメモリに保存します")
		return l, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// 起動後に接続できるようになる場合があるため、起動は止めない
		logger.Warn("Redisに接続できません", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
	} else {
		logger.Info("レート制限のカウンタをRedisに保存します", zap.String("addr", cfg.Redis.Addr()))
	}

	l, err := ratelimit.NewRedisLimiter(client, rlCfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return l, nil
}

// newVerifier はAUTH_USERS_DBが設定されていれば利用者データベース、
// そうでなければ空でない資格情報をすべて受け付ける検証器を生成する。
func (s *Server) newVerifier(ctx context.Context) (auth.CredentialVerifier, error) {
	if s.cfg.Auth.UsersDB == "" {
		s.logger.Warn("AUTH_USERS_DBが未設定のため、空でない資格情報をすべて受け付けます")
		return auth.AcceptNonEmpty{}, nil
	}

	store, err := OpenUserStore(ctx, s.cfg.Auth.UsersDB, s.logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	return store, nil
}

// newPipeline はリクエストを処理するステージ列を組み立てる。
func (s *Server) newPipeline() *pipeline.Pipeline {
	keyFunc := ratelimit.HeaderKey(s.cfg.RateLimit.KeyHeader)

	stages := []pipeline.Stage{
		middleware.SecurityHeaders(),
		middleware.CORS(s.cfg.CORS.AllowedOrigins),
		middleware.RateLimit(middleware.RateLimitOptions{
			Limiter:  s.limiter,
			Prefixes: s.cfg.RateLimit.Prefixes,
			FailOpen: s.cfg.RateLimit.FailOpen,
			Logger:   s.logger,
			Observe:  s.metrics.ObserveRateLimit,
		}),
		resolveStage(s.table),
		middleware.AuthGate(s.validator),
		dispatchStage(map[string]directHandler{
			routeHealth:  s.handleHealth,
			routeReady:   s.handleReady,
			routeMetrics: s.handleMetrics,
			routeLogin:   s.handleLogin,
		}, s.forwarder),
	}

	return pipeline.New(stages,
		pipeline.WithLogger(s.logger),
		pipeline.WithVerboseErrors(s.cfg.Development()),
		pipeline.WithClientKey(keyFunc),
		pipeline.WithObserver(s.metrics.ObserveRequest),
	)
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics はサーバーのメトリクスを返す。
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで処理を続ける。
// キャンセル後は処理中のリクエストをShutdownTimeoutまで待ってから停止し、資源を解放する。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("%sでのリッスンに失敗: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve はlnで接続を受け付ける。停止の手順はRunと同じ。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API Gatewayを起動しました",
			zap.String("addr", ln.Addr().String()),
			zap.String("env", s.cfg.Env),
			zap.Strings("pipeline", s.pipeline.Stages()),
		)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		_ = s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("停止シグナルを受け取りました。処理中のリクエストを待ちます",
		zap.Duration("timeout", s.cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("グレースフルシャットダウンに失敗: %w", err))
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("API Gatewayを停止しました")
	return errors.Join(errs...)
}

// Close はレート制限の保存先と利用者データベースを閉じる。
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
