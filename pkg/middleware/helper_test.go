package middleware

import (
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// okStage は到達したことを200で応答する終端ステージ。
var okStage = pipeline.StageFunc("ok", func(c *pipeline.Context) pipeline.Outcome {
	body := gin.H{"status": "ok"}
	if c.Identity != nil {
		body["user"] = c.Identity.Subject
	}
	return pipeline.Respond(http.StatusOK, body)
})

// serveStages はステージ列の末尾にokStageを加えたパイプラインでリクエストを処理する。
func serveStages(req *http.Request, stages ...pipeline.Stage) *httptest.ResponseRecorder {
	p := pipeline.New(append(stages, okStage))

	engine := gin.New()
	engine.Any("/*path", p.Handler())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}
