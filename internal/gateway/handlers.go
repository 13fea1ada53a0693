package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/auth"
	"github.com/nao1215/edgegate/pkg/pipeline"
	"go.uber.org/zap"
)

const (
	// readyTimeout は/readyで保存先の疎通を確認する上限時間。
	readyTimeout = 2 * time.Second
	// maxLoginBodySize はログインリクエストのボディの上限。
	maxLoginBodySize = 100 << 10
	// timestampLayout は/healthの時刻の書式。ミリ秒精度のUTC。
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// 依存先の状態。
const (
	dependencyConnected    = "connected"
	dependencyDisconnected = "disconnected"
)

// errInvalidCredentials はログイン失敗時のクライアント向けメッセージ。
const errInvalidCredentials = "Invalid credentials"

// loginRequest はPOST /auth/loginのボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginUser はログイン成功時に返す利用者情報。
type loginUser struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresIn string    `json:"expiresIn"`
	User      loginUser `json:"user"`
}

// handleHealth は稼働状況を返すハンドラ。
func (s *Server) handleHealth(_ *pipeline.Context) pipeline.Outcome {
	return pipeline.Respond(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   s.cfg.Service.Name,
		"version":   s.cfg.Service.Version,
		"timestamp": time.Now().UTC().Format(timestampLayout),
	})
}

// handleReady はレート制限の保存先の疎通を含む準備状況を返すハンドラ。
func (s *Server) handleReady(c *pipeline.Context) pipeline.Outcome {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
	defer cancel()

	store := dependencyConnected
	if err := s.limiter.Ping(ctx); err != nil {
		store = dependencyDisconnected
		s.logger.Warn("レート制限の保存先に接続できません", zap.Error(err))
	}

	return pipeline.Respond(http.StatusOK, gin.H{
		"status":  "ready",
		"service": s.cfg.Service.Name,
		"dependencies": gin.H{
			"rateLimitStore": store,
		},
	})
}

// handleMetrics はPrometheusのメトリクスを出力するハンドラ。
func (s *Server) handleMetrics(c *pipeline.Context) pipeline.Outcome {
	s.metrics.Handler().ServeHTTP(c.Gin.Writer, c.Request())
	return pipeline.Handled()
}

// handleLogin は資格情報を検証してトークンを発行するハンドラ。
// ボディが空または資格情報が欠けている場合は401、JSONとして読めない場合は400を返す。
// ユーザー名は受け取った値のままトークンの主体にする。
func (s *Server) handleLogin(c *pipeline.Context) pipeline.Outcome {
	body := http.MaxBytesReader(c.Gin.Writer, c.Request().Body, maxLoginBodySize)

	var req loginRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return pipeline.Fail(pipeline.NewError(pipeline.KindMalformedRequest, err))
	}

	identity, err := s.verifier.Verify(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return pipeline.Respond(http.StatusUnauthorized, gin.H{"error": errInvalidCredentials})
		}
		return pipeline.Fail(pipeline.NewError(pipeline.KindInternal, err))
	}

	token, issued, err := s.validator.Issue(identity.Subject, identity.Role)
	if err != nil {
		return pipeline.Fail(pipeline.NewError(pipeline.KindInternal, err))
	}

	s.logger.Info("トークンを発行しました",
		zap.String("user", issued.Subject),
		zap.String("role", issued.Role),
		zap.String("request_id", c.RequestID),
	)
	return pipeline.Respond(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: formatTTL(s.validator.TTL()),
		User:      loginUser{Username: issued.Subject, Role: issued.Role},
	})
}

// formatTTL は有効期間を"24h"や"90m"のような短い表記にする。
func formatTTL(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
