// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一の入口として、セキュリティヘッダー、CORS、
// レート制限、JWT認証を適用したうえで、パス接頭辞に応じてバックエンドへ
// リクエストを転送する。/health、/ready、/metrics、/auth/loginには
// ゲートウェイ自身が応答する。
package gateway
