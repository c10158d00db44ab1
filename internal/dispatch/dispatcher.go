package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/nao1215/salonpush/internal/registry"
)

// invalidReasonGone は受信者消滅によるチャネル無効化の監査理由
const invalidReasonGone = "recipient no longer registered"

// Dispatcher は通知を購読者へ配送する。
// バッチ配送は受信者単位で並行に走り、個々の失敗はバッチを中断しない。
type Dispatcher struct {
	queries *registry.Queries
	gateway GatewaySender
	webpush EndpointSender
}

// NewDispatcher はDispatcherを作成する
func NewDispatcher(queries *registry.Queries, gateway GatewaySender, webpush EndpointSender) *Dispatcher {
	return &Dispatcher{
		queries: queries,
		gateway: gateway,
		webpush: webpush,
	}
}

// DispatchOne はチャネル1件に通知を送り、結果を返す。エラーは返さない。
func (d *Dispatcher) DispatchOne(ctx context.Context, channel Channel, payload *Payload) Outcome {
	outcome := Outcome{ChannelKey: channel.Key()}

	switch channel.Kind {
	case registry.ChannelGateway:
		messageID, err := d.gateway.Send(ctx, channel.GatewayToken, payload)
		outcome.MessageID = messageID
		outcome.Err = err
	case registry.ChannelWebPush:
		outcome.Err = d.webpush.Send(ctx, channel, payload)
	default:
		outcome.Err = ErrNoChannel
	}

	switch {
	case outcome.Err == nil:
		outcome.Delivered = true
		outcome.Reason = ReasonDelivered
	case errors.Is(outcome.Err, ErrRecipientGone):
		outcome.Reason = ReasonRecipientGone
	default:
		outcome.Reason = ReasonSendFailed
	}
	return outcome
}

// DispatchToGroup は店舗の指定役割の有効な購読者全員に通知を送る。
// 受信者と同数のOutcomeを返し、送信失敗ではエラーを返さない。
// エラーはレジストリの読み取りに失敗した場合のみ。
// 受信者消滅と分類されたチャネルは配送後にレジストリで無効化される。
func (d *Dispatcher) DispatchToGroup(ctx context.Context, groupID string, role registry.Role, payload *Payload) ([]Outcome, error) {
	subscribers, err := d.queries.ListValidByGroupAndRole(ctx, groupID, role)
	if err != nil {
		return nil, fmt.Errorf("購読者の取得に失敗しました: %w", err)
	}

	outcomes := make([]Outcome, len(subscribers))
	var wg sync.WaitGroup
	for i, sub := range subscribers {
		wg.Add(1)
		go func(i int, sub registry.Subscriber) {
			defer wg.Done()
			outcome := d.DispatchOne(ctx, channelFromSubscriber(sub), payload.forRecipient(sub.PlatformHint, sub.Standalone))
			outcome.SubjectID = sub.SubjectID
			outcomes[i] = outcome
		}(i, sub)
	}
	wg.Wait()

	for i := range outcomes {
		if outcomes[i].Reason != ReasonRecipientGone {
			continue
		}
		d.invalidateChannel(ctx, outcomes[i].ChannelKey)
	}
	return outcomes, nil
}

// invalidateChannel は消滅した受信者のチャネルをレジストリで無効化する
func (d *Dispatcher) invalidateChannel(ctx context.Context, channelKey string) {
	subjectIDs, err := d.queries.MarkInvalidByChannel(ctx, channelKey, invalidReasonGone)
	if err != nil {
		log.Printf("[Dispatch] チャネルの無効化に失敗しました: %v", err)
		return
	}
	for _, subjectID := range subjectIDs {
		log.Printf("[Dispatch] 消滅したチャネルを無効化しました: subject_id=%s", subjectID)
	}
}
