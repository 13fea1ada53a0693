// Package auth はゲートウェイの認証に関わる部品を提供する。
//
// Bearerトークン（HS256署名のJWT）の発行と検証、ログイン時の
// 資格情報検証の抽象（CredentialVerifier）を含む。
// HTTPやGinには依存せず、純粋な関数として利用できる。
package auth
