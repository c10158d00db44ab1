package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPushSender はVAPID署名付きの生Web Push送信の実装
type WebPushSender struct {
	subscriber string
	publicKey  string
	privateKey string
}

// WebPushSenderがEndpointSenderを実装していることをコンパイル時に保証する
var _ EndpointSender = (*WebPushSender)(nil)

// NewWebPushSender はVAPID鍵ペアからWebPushSenderを作成する。
// subscriberはプッシュサービス運用者への連絡先（mailto: URI）。
func NewWebPushSender(subscriber, publicKey, privateKey string) *WebPushSender {
	return &WebPushSender{
		subscriber: subscriber,
		publicKey:  publicKey,
		privateKey: privateKey,
	}
}

// webPushBody はService Workerが受け取るメッセージ本体
type webPushBody struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data"`
}

// Send はエンドポイント宛に暗号化した通知を送る。
// プッシュサービスが404または410を返した場合、購読は消滅しているため
// ErrRecipientGoneをラップして返す。
func (s *WebPushSender) Send(ctx context.Context, channel Channel, payload *Payload) error {
	body := webPushBody{Data: payload.Data}
	if !payload.DataOnly {
		body.Title = payload.Title
		body.Body = payload.Body
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("メッセージ本体のエンコードに失敗しました: %w", err)
	}

	sub := &webpush.Subscription{
		Endpoint: channel.Endpoint,
		Keys: webpush.Keys{
			P256dh: channel.P256dh,
			Auth:   channel.Auth,
		},
	}
	urgency := webpush.UrgencyHigh
	if payload.LowPriority {
		urgency = webpush.UrgencyLow
	}
	resp, err := webpush.SendNotificationWithContext(ctx, raw, sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("Web Push送信に失敗しました: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: プッシュサービスがステータス%dを返しました", ErrRecipientGone, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("プッシュサービスがステータス%dを返しました", resp.StatusCode)
	}
	return nil
}
