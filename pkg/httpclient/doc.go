// Package httpclient はサービス間通信用のHTTPクライアントを提供する。
//
// Event Storeや購読者レジストリへのJSONリクエストに使用する。
// コンテキスト経由でユーザーIDをX-User-IDヘッダーとして伝播する。
package httpclient
