package dispatch

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMSender はFirebase Cloud Messagingを使ったゲートウェイ送信の実装
type FCMSender struct {
	client *messaging.Client
}

// FCMSenderがGatewaySenderを実装していることをコンパイル時に保証する
var _ GatewaySender = (*FCMSender)(nil)

// NewFCMSender はサービスアカウント認証情報ファイルからFCMSenderを作成する
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("Firebaseアプリの初期化に失敗しました: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("Messagingクライアントの作成に失敗しました: %w", err)
	}
	return &FCMSender{client: client}, nil
}

// Send はトークン宛に通知を送る。
// トークンが失効している場合はErrRecipientGoneをラップして返す。
func (s *FCMSender) Send(ctx context.Context, token string, payload *Payload) (string, error) {
	messageID, err := s.client.Send(ctx, buildGatewayMessage(token, payload))
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) {
			return "", fmt.Errorf("%w: %v", ErrRecipientGone, err)
		}
		return "", fmt.Errorf("FCM送信に失敗しました: %w", err)
	}
	return messageID, nil
}

// buildGatewayMessage はペイロードをFCMメッセージに組み立てる。
// 受信者の環境ヒントに応じてプラットフォーム別の設定を付ける。
func buildGatewayMessage(token string, payload *Payload) *messaging.Message {
	data := payload.Data
	if data == nil {
		data = map[string]string{"link": payload.Link()}
	}

	priority := "high"
	apnsPriority := "10"
	if payload.LowPriority {
		priority = "normal"
		apnsPriority = "5"
	}

	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: priority,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: payload.DataOnly},
			},
		},
	}

	if payload.DataOnly {
		return msg
	}

	msg.Notification = &messaging.Notification{
		Title: payload.Title,
		Body:  payload.Body,
	}
	msg.Android.Notification = &messaging.AndroidNotification{
		Sound:       "default",
		ClickAction: payload.Link(),
	}
	msg.APNS.Payload.Aps.Sound = "default"
	msg.Webpush = &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: payload.Title,
			Body:  payload.Body,
		},
	}
	return msg
}
