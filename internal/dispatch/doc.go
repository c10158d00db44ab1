// Package dispatch は通知配送ゲートウェイの内部実装を提供する。
//
// イベント駆動（予約作成）とオンデマンドAPIの2つのトリガーから
// 通知リクエストを受け取り、購読者レジストリの有効な購読者へ
// 並行にファンアウトする。受信者ごとの失敗はバッチを中断せず、
// 「受信者が登録解除済み」エラーはレジストリの無効化にフィードバックされる。
// 購読者のチャネルが書き込まれるたびに低優先度の検証プローブを送り、
// 死んだチャネルが無期限に蓄積するのを防ぐ。
package dispatch
