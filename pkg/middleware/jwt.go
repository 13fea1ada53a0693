package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/auth"
	"github.com/nao1215/edgegate/pkg/pipeline"
)

// Ginコンテキストに認証済みの利用者情報を保存するキー。
const (
	contextKeyUserID   = "user_id"
	contextKeyIdentity = "identity"
)

// TokenValidator はBearerトークンを検証する。
type TokenValidator interface {
	Validate(token string) (*auth.Identity, error)
}

// AuthGate は保護された経路に対してBearerトークンを検証するステージを返す。
// 経路解決の後に置く必要がある。公開経路では何もしない。
// トークンが無い場合は401、検証に失敗した場合は403で終了する。
func AuthGate(validator TokenValidator) pipeline.Stage {
	return pipeline.StageFunc("auth", func(c *pipeline.Context) pipeline.Outcome {
		if c.Route == nil || !c.Route.Entry.Protected {
			return pipeline.Continue()
		}

		token, err := auth.BearerToken(c.Gin.GetHeader("Authorization"))
		if err != nil {
			return pipeline.Fail(pipeline.NewError(pipeline.KindMissingToken, err))
		}

		identity, err := validator.Validate(token)
		if err != nil {
			kind := pipeline.KindInvalidToken
			if !errors.Is(err, auth.ErrInvalidToken) {
				kind = pipeline.KindInternal
			}
			return pipeline.Fail(pipeline.NewError(kind, err))
		}

		c.Identity = identity
		c.Gin.Set(contextKeyUserID, identity.Subject)
		c.Gin.Set(contextKeyIdentity, identity)
		return pipeline.Continue()
	})
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// AuthGateを通過していない場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// IdentityFrom はGinコンテキストから認証済みの利用者情報を取得する。
func IdentityFrom(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*auth.Identity)
	return identity, ok
}
