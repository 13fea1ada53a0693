// Package tracing はOpenTelemetryのトレーサーを初期化する。
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// ShutdownFunc は未送信のスパンを書き出してトレーサーを停止する。
type ShutdownFunc func(context.Context) error

// Options はトレーサーの設定。
type Options struct {
	// ServiceName はリソース属性service.nameに設定する名前。
	ServiceName string
	// ServiceVersion はリソース属性service.versionに設定するバージョン。
	ServiceVersion string
	// Enabled がfalseの場合は何もしない。
	Enabled bool
	// Writer はスパンの出力先。nilなら標準出力。
	Writer io.Writer
}

// Init はグローバルなトレーサープロバイダとW3C Trace Contextの伝播を設定する。
// 無効の場合もTrace Contextの伝播だけは設定し、何もしないShutdownFuncを返す。
func Init(opts Options, logger *zap.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetryを初期化しました", zap.String("service", opts.ServiceName))
	return tp.Shutdown, nil
}
