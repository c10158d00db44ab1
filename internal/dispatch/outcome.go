package dispatch

import (
	"errors"

	"github.com/nao1215/salonpush/internal/registry"
)

// ErrRecipientGone は受信者が恒久的に到達不能（トークン失効・
// エンドポイント消滅）であることを示す。送信実装はこのエラーを
// ラップして返し、ディスパッチャーが無効化処理へ振り分ける。
var ErrRecipientGone = errors.New("recipient no longer registered")

// ErrNoChannel は購読者に配送チャネルが紐付いていないことを示す
var ErrNoChannel = errors.New("subscriber has no delivery channel")

// OutcomeReason は受信者ごとの配送結果の分類
type OutcomeReason string

const (
	// ReasonDelivered は配送成功
	ReasonDelivered OutcomeReason = "delivered"
	// ReasonRecipientGone は受信者が恒久的に到達不能
	ReasonRecipientGone OutcomeReason = "recipient-gone"
	// ReasonSendFailed は一時的な送信失敗（受信者は有効なまま）
	ReasonSendFailed OutcomeReason = "send-failed"
)

// Outcome は受信者1件に対する配送結果。
// バッチ配送は受信者と同数のOutcomeを必ず返す。
type Outcome struct {
	// SubjectID は受信者の主体ID（単発配送では空のことがある）
	SubjectID string
	// ChannelKey は配送に使ったチャネルの識別キー
	ChannelKey string
	// Delivered は配送が成功したかどうか
	Delivered bool
	// Reason は結果の分類
	Reason OutcomeReason
	// MessageID はゲートウェイが払い出したメッセージID（成功時のみ）
	MessageID string
	// Err は失敗時の原因
	Err error
}

// CountOutcomes は配送結果を成功数と失敗数に集計する
func CountOutcomes(outcomes []Outcome) (delivered, failed int) {
	for _, o := range outcomes {
		if o.Delivered {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed
}

// Channel は購読者の配送チャネルを配送に必要な属性だけに絞った値
type Channel struct {
	// Kind はチャネル種別
	Kind registry.ChannelKind
	// GatewayToken はゲートウェイ経路のデバイストークン
	GatewayToken string
	// Endpoint は生Web Push経路のプッシュエンドポイント
	Endpoint string
	// P256dh は暗号化用の公開鍵
	P256dh string
	// Auth は認証シークレット
	Auth string
}

// Key はチャネルの識別キーを返す。チャネル未設定なら空文字列。
func (c Channel) Key() string {
	switch c.Kind {
	case registry.ChannelGateway:
		return c.GatewayToken
	case registry.ChannelWebPush:
		return c.Endpoint
	default:
		return ""
	}
}

// channelFromSubscriber は購読者レコードから配送チャネルを取り出す
func channelFromSubscriber(sub registry.Subscriber) Channel {
	return Channel{
		Kind:         sub.ChannelKind,
		GatewayToken: sub.GatewayToken,
		Endpoint:     sub.Endpoint,
		P256dh:       sub.P256dhKey,
		Auth:         sub.AuthKey,
	}
}
