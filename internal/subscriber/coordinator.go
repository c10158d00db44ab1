package subscriber

import (
	"context"
	"log"
)

// Coordinator は2系統の購読経路を固定順で試すフォールバック調停役。
// Web Push直接交渉はプッシュサービスを持たない実行環境で失敗し、
// ゲートウェイメッセージングはブラウザ内で非対応の場合に失敗する。
// 失敗モードが独立しているため、両方を試すことで到達可能な
// チャネルを最大化する。
type Coordinator struct {
	manager *Manager
}

// NewCoordinator は新しいフォールバック調停役を生成する。
func NewCoordinator(manager *Manager) *Coordinator {
	return &Coordinator{manager: manager}
}

// Activate は購読の有効化を試みる。
// まずWeb Push直接交渉を実行し、成功すればゲートウェイ経路は試さない。
// 失敗した場合のみゲートウェイトークン経路にフォールバックする。
// どちらかが成功した時点でtrueを返し、両方失敗した場合は最後のエラーを返す。
func (c *Coordinator) Activate(ctx context.Context, user UserContext) (bool, error) {
	webPushErr := c.manager.Subscribe(ctx, user)
	if webPushErr == nil {
		return true, nil
	}

	log.Printf("[Subscriber] Web Push購読に失敗、ゲートウェイ経路へフォールバック: %v", webPushErr)

	if gatewayErr := c.manager.SubscribeGateway(ctx, user); gatewayErr != nil {
		return false, gatewayErr
	}
	return true, nil
}
