// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 店舗アカウントの認証とJWT発行、リクエストルーティングを担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。認証済みリクエストを通知配送サービスとイベントストアに転送する。
package gateway
