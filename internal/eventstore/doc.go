// Package eventstore はイベントストアサービスの内部実装を提供する。
//
// Event Sourcingの中核となるサービスで、予約サービスと通知配送サービスの
// 状態変更をイベントとして永続化する。イベントは不変（immutable）であり、
// 追記のみ（append-only）で運用される。
//
// 主な機能:
//   - イベントの追記（Append）
//   - AggregateIDによるイベント取得（状態再構築用）
//   - イベントタイプによるイベント取得（監査用）
//   - 日時指定によるイベント取得（配送サービスのポーリング用）
package eventstore
