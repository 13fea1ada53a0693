// Package middleware はゲートウェイのパイプラインを構成する共通ステージを提供する。
//
// セキュリティヘッダー、CORSプリフライト、レート制限、JWT認証ゲートを
// pipeline.Stageとして実装する。パニックリカバリのみGinミドルウェアとして
// パイプラインの外側に置く。
package middleware
