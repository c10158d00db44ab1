package subscriber

import "context"

// PushSubscription はブラウザのプッシュサービスが発行した購読情報を表す。
type PushSubscription struct {
	// Endpoint はプッシュサービスのエンドポイントURL。
	Endpoint string
	// P256dh はメッセージ暗号化用の公開鍵（Base64URL形式）。
	P256dh string
	// Auth は認証シークレット（Base64URL形式）。
	Auth string
}

// PermissionPrompter は通知許可のプロンプト表示を抽象化する。
type PermissionPrompter interface {
	// RequestPermission はユーザーに通知許可を求め、結果の状態を返す。
	// すでに決定済みの場合はプロンプトを表示せず現在の状態を返す。
	RequestPermission(ctx context.Context) (PermissionState, error)
}

// WorkerRegistrar はバックグラウンド実行コンテキスト
// （プッシュイベントを受信するService Worker相当）の登録を抽象化する。
type WorkerRegistrar interface {
	// Register は実行コンテキストを登録する。登録済みの場合は何もしない（冪等）。
	Register(ctx context.Context) error
	// AwaitActivation は実行コンテキストが有効化されるまで待機する。
	// 固定のディレイではなく、実際の状態遷移を待つサスペンションポイント。
	AwaitActivation(ctx context.Context) error
}

// PushService はブラウザのプッシュサービスとの購読交渉を抽象化する。
type PushService interface {
	// Existing は既存の購読を返す。存在しない場合は(nil, nil)。
	Existing(ctx context.Context) (*PushSubscription, error)
	// Subscribe は指定された公開鍵で新しい購読を開設する。
	// 実行環境がプッシュに対応していない場合はErrUnsupportedRuntimeを返す。
	Subscribe(ctx context.Context, publicKey string) (*PushSubscription, error)
	// Unsubscribe は既存の購読を解除する。
	Unsubscribe(ctx context.Context, sub *PushSubscription) error
}

// TokenSource はゲートウェイのメッセージングトークン取得を抽象化する。
type TokenSource interface {
	// Token はメッセージングトークンを取得する。
	// keyHintは省略可能な鍵のヒントで、空文字列の場合はプラットフォームの
	// 既定の鍵解決に任せる。ゲートウェイメッセージングが非対応の環境では
	// ErrUnsupportedRuntimeを返す。
	Token(ctx context.Context, keyHint string) (string, error)
}

// LocalNotifier はサーバーを経由しないローカル通知の表示を抽象化する。
type LocalNotifier interface {
	// Show はタイトルと本文でローカル通知を表示する。
	Show(ctx context.Context, title, body string) error
}
