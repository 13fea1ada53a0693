package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/pipeline"
	"go.uber.org/zap"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パイプラインの外側で起きたパニックを500の分類済みエラーとして応答する。
// http.ErrAbortHandlerは接続を閉じるためにそのまま再送出する。
func Recovery(logger *zap.Logger, verbose bool) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			logger.Error("パニックから回復しました",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			pipeline.WriteError(c, pipeline.NewError(pipeline.KindInternal, fmt.Errorf("panic: %v", r)), verbose)
		}()
		c.Next()
	}
}
