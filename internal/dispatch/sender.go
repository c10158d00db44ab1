package dispatch

import "context"

// GatewaySender はゲートウェイ経由（デバイストークン宛）の送信を抽象化する。
// 受信者が登録解除済みの場合、実装はErrRecipientGoneをラップしたエラーを返す。
type GatewaySender interface {
	// Send はトークン宛に通知を送り、ゲートウェイのメッセージIDを返す
	Send(ctx context.Context, token string, payload *Payload) (string, error)
}

// EndpointSender は生Web Push（エンドポイント直送）の送信を抽象化する。
// エンドポイントが消滅している場合、実装はErrRecipientGoneをラップしたエラーを返す。
type EndpointSender interface {
	// Send はエンドポイント宛に暗号化した通知を送る
	Send(ctx context.Context, channel Channel, payload *Payload) error
}
