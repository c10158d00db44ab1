package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/salonpush/pkg/event"
)

// reconcileTimeout はプローブ1回あたりの上限時間
const reconcileTimeout = 10 * time.Second

// reconcileSubscriber は購読者のチャネルに低優先度のデータのみの
// プローブを送り、受信者消滅と判定された場合はチャネルを無効化して
// SubscriberInvalidatedイベントを発行する。
// 一時的な送信失敗は無効化の根拠にしない。
func (s *Server) reconcileSubscriber(subjectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	sub, err := s.queries.GetSubscriber(ctx, subjectID)
	if err != nil {
		log.Printf("[Dispatch] プローブ対象の取得に失敗しました: subject_id=%s: %v", subjectID, err)
		return
	}

	channel := channelFromSubscriber(sub)
	if channel.Key() == "" {
		return
	}

	outcome := s.dispatcher.DispatchOne(ctx, channel, probePayload().forRecipient(sub.PlatformHint, sub.Standalone))
	if outcome.Reason != ReasonRecipientGone {
		if outcome.Err != nil {
			log.Printf("[Dispatch] 検証プローブが一時的に失敗しました: subject_id=%s: %v", subjectID, outcome.Err)
		}
		return
	}

	subjectIDs, err := s.queries.MarkInvalidByChannel(ctx, channel.Key(), invalidReasonGone)
	if err != nil {
		log.Printf("[Dispatch] チャネルの無効化に失敗しました: subject_id=%s: %v", subjectID, err)
		return
	}
	for _, id := range subjectIDs {
		log.Printf("[Dispatch] 検証プローブによりチャネルを無効化しました: subject_id=%s", id)
		s.appendEvent(ctx, fmt.Sprintf("subscriber-%s", id),
			event.TypeSubscriberInvalidated, event.SubscriberInvalidatedData{
				SubjectID: id,
				Reason:    invalidReasonGone,
			})
	}
}
