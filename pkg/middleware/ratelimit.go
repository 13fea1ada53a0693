package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/nao1215/edgegate/pkg/pipeline"
	"github.com/nao1215/edgegate/pkg/ratelimit"
	"github.com/nao1215/edgegate/pkg/routing"
	"go.uber.org/zap"
)

// レート制限の判定結果。メトリクスのラベルに使う。
const (
	RateLimitAllowed = "allowed"
	RateLimitDenied  = "denied"
	RateLimitError   = "error"
)

// RateLimitOptions はRateLimitステージの設定。
type RateLimitOptions struct {
	// Limiter は受付判定を行うレート制限器。
	Limiter ratelimit.Limiter
	// Prefixes は制限対象のパス接頭辞。空なら全パスが対象。
	Prefixes []string
	// FailOpen はカウンタの保存先が失敗した場合に受け付けるかどうか。
	FailOpen bool
	// Logger は保存先の失敗を出力するロガー。
	Logger *zap.Logger
	// Observe は判定結果ごとに呼ばれる。nilでもよい。
	Observe func(result string)
	// Now は現在時刻を返す。nilならtime.Now。
	Now func() time.Time
}

// RateLimit はクライアント単位の受付判定を行うステージを返す。
// 判定のキーにはpipeline.Context.ClientKeyを使う。
func RateLimit(opts RateLimitOptions) pipeline.Stage {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	observe := opts.Observe
	if observe == nil {
		observe = func(string) {}
	}

	return pipeline.StageFunc("rate_limit", func(c *pipeline.Context) pipeline.Outcome {
		if !limited(c.Path(), opts.Prefixes) {
			return pipeline.Continue()
		}

		at := now()
		d, err := opts.Limiter.Admit(c.Request().Context(), c.ClientKey, at)
		if err != nil {
			observe(RateLimitError)
			if opts.FailOpen {
				logger.Warn("レート制限の判定に失敗したため受け付けます",
					zap.String("client", c.ClientKey),
					zap.String("request_id", c.RequestID),
					zap.Error(err),
				)
				return pipeline.Continue()
			}
			return pipeline.Fail(pipeline.NewError(pipeline.KindInternal, err))
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(at.Add(d.ResetAfter).Unix(), 10))

		if !d.Allowed {
			observe(RateLimitDenied)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.ResetAfter.Seconds()))))
			return pipeline.Fail(pipeline.NewError(pipeline.KindRateLimited, nil))
		}
		observe(RateLimitAllowed)
		return pipeline.Continue()
	})
}

// limited はパスがレート制限の対象かどうかを返す。
func limited(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if routing.HasPathPrefix(path, p) {
			return true
		}
	}
	return false
}
