package middleware

import (
	"net/http"

	"github.com/nao1215/edgegate/pkg/pipeline"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Origin, X-Requested-With, Content-Type, Accept, Authorization"
	corsMaxAge       = "86400"
	wildcardOrigin   = "*"
)

// CORS はクロスオリジンリクエストを許可するステージを返す。
// allowedOriginsに"*"が含まれる場合はすべてのオリジンを許可する。
// それ以外は一致したOriginのみを返し、Vary: Originを付与する。
// OPTIONSリクエストは以降のステージを実行せずに200で応答する。
func CORS(allowedOrigins []string) pipeline.Stage {
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == wildcardOrigin {
			wildcard = true
		}
		originsSet[o] = struct{}{}
	}

	return pipeline.StageFunc("cors", func(c *pipeline.Context) pipeline.Outcome {
		h := c.Gin.Writer.Header()
		if wildcard {
			h.Set("Access-Control-Allow-Origin", wildcardOrigin)
		} else {
			h.Add("Vary", "Origin")
			if origin := c.Gin.GetHeader("Origin"); origin != "" {
				if _, ok := originsSet[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
				}
			}
		}
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", corsMaxAge)

		if c.Method() == http.MethodOptions {
			return pipeline.Respond(http.StatusOK, nil)
		}
		return pipeline.Continue()
	})
}
