// Package registry は購読者レジストリの永続化層を提供する。
//
// (ユーザー, デバイス)ごとに1行のSubscriberレコードをSQLiteに保持する。
// 書き込みはsubject_idをキーとした冪等なアップサートで、
// チャネル（ゲートウェイトークンまたはWeb Pushエンドポイント）の
// 最新書き込みが常に優先される。無効化されたチャネルは監査のために
// 行ごと削除せず、チャネル値のみを消去して理由と日時を記録する。
package registry
