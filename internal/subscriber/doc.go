// Package subscriber はクライアント側の通知許可・購読ライフサイクルを管理する。
//
// ブラウザ等のプラットフォーム機能（許可プロンプト、バックグラウンド実行
// コンテキスト、プッシュサービス）はインターフェースとして注入され、
// 許可状態と購読状態の直交した状態機械として明示的にモデル化する。
// ネストしたコールバックではなく、各遷移が明示的なサスペンションポイントになる。
//
// 配送経路は2系統ある。ブラウザと直接交渉するWeb Push購読と、
// ゲートウェイ発行のメッセージングトークンによる購読で、
// Coordinatorが前者→後者の固定順でフォールバックする。
package subscriber
