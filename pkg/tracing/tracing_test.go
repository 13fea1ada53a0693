package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// TestInit はInitを検証する。グローバル状態を変更するため並列実行しない。
func TestInit(t *testing.T) {
	t.Run("有効な場合はスパンが出力先に書き出されること", func(t *testing.T) {
		var buf bytes.Buffer
		shutdown, err := Init(Options{
			ServiceName:    "api-gateway",
			ServiceVersion: "1.0.0",
			Enabled:        true,
			Writer:         &buf,
		}, nil)
		if err != nil {
			t.Fatalf("Init()でエラーが発生: %v", err)
		}

		_, span := otel.Tracer("test").Start(context.Background(), "proxy revenue")
		span.End()

		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown()でエラーが発生: %v", err)
		}
		if !strings.Contains(buf.String(), "proxy revenue") {
			t.Errorf("スパンが出力されていない: %q", buf.String())
		}
		if !strings.Contains(buf.String(), "api-gateway") {
			t.Errorf("service.nameが出力されていない: %q", buf.String())
		}
	})

	t.Run("無効な場合もTrace Contextの伝播が設定されること", func(t *testing.T) {
		shutdown, err := Init(Options{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("Init()でエラーが発生: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown()でエラーが発生: %v", err)
		}

		fields := otel.GetTextMapPropagator().Fields()
		found := false
		for _, f := range fields {
			if f == "traceparent" {
				found = true
			}
		}
		if !found {
			t.Errorf("traceparentが伝播対象に含まれていない: %v", fields)
		}
	})
}
