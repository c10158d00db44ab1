package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/salonpush/internal/registry"
	"github.com/nao1215/salonpush/pkg/event"
	"github.com/nao1215/salonpush/pkg/httpclient"
)

// Poller はEvent Storeをポーリングして予約イベントを通知に変換する。
// 新しい保留予約を検知すると店舗の管理者購読者へファンアウトし、
// 送信結果をBookingNotifiedイベントとして書き戻す。
type Poller struct {
	// dispatcher は通知の配送を行う。
	dispatcher *Dispatcher
	// eventStoreClient はEvent StoreへのHTTPクライアント。
	eventStoreClient *httpclient.Client
	// lastPolledAt は最後に処理したイベントの作成日時。
	lastPolledAt time.Time
	// seenAtCursor はlastPolledAtと同時刻の処理済みイベントID。
	// 問い合わせが同時刻を含むため、これで再処理を防ぐ。
	seenAtCursor map[string]bool
}

// NewPoller は新しいイベントポーラーを生成する。
func NewPoller(dispatcher *Dispatcher, eventStoreClient *httpclient.Client) *Poller {
	return &Poller{
		dispatcher:       dispatcher,
		eventStoreClient: eventStoreClient,
		lastPolledAt:     time.Now().UTC().Add(-1 * time.Hour),
		seenAtCursor:     map[string]bool{},
	}
}

// eventStoreEvent はEvent StoreのAPIレスポンスに対応する構造体。
type eventStoreEvent struct {
	ID            string `json:"id"`
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	EventType     string `json:"event_type"`
	Data          string `json:"data"`
	Version       int64  `json:"version"`
	CreatedAt     string `json:"created_at"`
}

// Start はイベントポーリングループを開始する。
// バックグラウンドgoroutineとして呼び出されることを想定している。
func (p *Poller) Start() {
	log.Println("[Dispatch] イベントポーラーを開始します。ポーリング間隔: 3秒")

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		p.poll()
	}
}

// poll はEvent Storeから新しいイベントを取得し、通知処理へ振り分ける。
func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sinceParam := p.lastPolledAt.Format(time.RFC3339)
	path := fmt.Sprintf("/api/v1/events/since?since=%s", sinceParam)

	var events []eventStoreEvent
	if err := p.eventStoreClient.GetJSON(ctx, path, &events); err != nil {
		log.Printf("[Dispatch] イベントポーリングエラー: %v", err)
		return
	}

	for i := range events {
		if p.seenAtCursor[events[i].ID] {
			continue
		}
		p.HandleEvent(ctx, events[i].EventType, events[i].AggregateID, events[i].Data)
	}

	if len(events) > 0 {
		// 最後のイベントの作成日時を次回ポーリングの起点にする。
		// 起点の問い合わせは同時刻を含むため、同時刻のイベントIDを
		// 控えておき次回の重複処理を防ぐ。
		lastEvent := events[len(events)-1]
		if t, err := time.Parse(time.RFC3339, lastEvent.CreatedAt); err == nil {
			p.lastPolledAt = t
			seen := map[string]bool{}
			for i := range events {
				if events[i].CreatedAt == lastEvent.CreatedAt {
					seen[events[i].ID] = true
				}
			}
			p.seenAtCursor = seen
		}
	}
}

// HandleEvent はイベントを受信し、対応する通知アクションを実行する。
func (p *Poller) HandleEvent(ctx context.Context, eventType, aggregateID, data string) {
	switch event.Type(eventType) {
	case event.TypeBookingCreated:
		p.notifyBookingCreated(ctx, aggregateID, data)
	}
}

// notifyBookingCreated は新しい保留予約を店舗の管理者購読者に通知し、
// 送信結果をBookingNotifiedイベントとして書き戻す。
func (p *Poller) notifyBookingCreated(ctx context.Context, aggregateID, data string) {
	var booking event.BookingCreatedData
	if err := json.Unmarshal([]byte(data), &booking); err != nil {
		log.Printf("[Dispatch] 予約イベントデータの解析に失敗: %v", err)
		return
	}

	// 確定済み・キャンセル済みの予約に通知は不要
	if booking.Status != "pending" {
		return
	}

	payload := &Payload{
		Title: "新しい予約",
		Body:  fmt.Sprintf("%sさんから「%s」の予約が入りました。", booking.CustomerName, booking.ServiceName),
		Data: map[string]string{
			"link":       DefaultLink,
			"booking_id": aggregateID,
		},
	}

	outcomes, err := p.dispatcher.DispatchToGroup(ctx, booking.GroupID, registry.RoleAdmin, payload)
	if err != nil {
		log.Printf("[Dispatch] 予約通知の送信に失敗: aggregate_id=%s: %v", aggregateID, err)
		return
	}

	delivered, failed := CountOutcomes(outcomes)
	log.Printf("[Dispatch] 予約通知を送信しました: aggregate_id=%s, delivered=%d, failed=%d",
		aggregateID, delivered, failed)

	// 通知済みフラグを予約側に書き戻すためのイベントを発行する。
	// 書き戻しに失敗しても通知自体は成功として扱う。
	p.appendBookingNotified(ctx, aggregateID, delivered, failed)
}

// appendBookingNotified はBookingNotifiedイベントをEvent Storeに送信する。
func (p *Poller) appendBookingNotified(ctx context.Context, aggregateID string, delivered, failed int) {
	jsonData, err := json.Marshal(event.BookingNotifiedData{
		NotificationSent: true,
		NotifiedAt:       time.Now().UTC(),
		Delivered:        delivered,
		Failed:           failed,
	})
	if err != nil {
		log.Printf("[Dispatch] イベントデータシリアライズエラー: %v", err)
		return
	}

	req := appendEventRequest{
		AggregateID:   aggregateID,
		AggregateType: string(event.AggregateTypeBooking),
		EventType:     string(event.TypeBookingNotified),
		Data:          jsonData,
	}
	var resp map[string]any
	if err := p.eventStoreClient.PostJSON(ctx, "/api/v1/events", req, &resp); err != nil {
		log.Printf("[Dispatch] BookingNotifiedイベントの送信に失敗: %v", err)
	}
}
