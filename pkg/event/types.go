package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeBooking は予約エンティティを表す。
	AggregateTypeBooking AggregateType = "Booking"
	// AggregateTypeSubscriber は通知購読者エンティティを表す。
	AggregateTypeSubscriber AggregateType = "Subscriber"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeBookingCreated は新しい予約が作成され保留状態になったことを表す。
	TypeBookingCreated Type = "BookingCreated"
	// TypeBookingNotified は予約の通知ファンアウトが完了したことを表す。
	// Dispatch Gatewayが通知送信後に書き戻す。
	TypeBookingNotified Type = "BookingNotified"
	// TypeSubscriberRegistered は購読者が登録・更新されたことを表す。
	TypeSubscriberRegistered Type = "SubscriberRegistered"
	// TypeSubscriberInvalidated は購読者のチャネルが無効と判定されたことを表す。
	TypeSubscriberInvalidated Type = "SubscriberInvalidated"
)

// Event はEvent Sourcingにおける不変のイベントレコードを表す。
// すべての状態変更はこの構造体としてEvent Storeに永続化される。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。楽観的排他制御に使用する。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// BookingCreatedData はBookingCreatedイベントのデータ。
type BookingCreatedData struct {
	// GroupID は予約が属する店舗のID。
	GroupID string `json:"group_id"`
	// CustomerName は予約した顧客の名前。
	CustomerName string `json:"customer_name"`
	// ServiceName は予約されたメニュー名。
	ServiceName string `json:"service_name"`
	// StartsAt は予約の開始日時（RFC3339形式）。
	StartsAt string `json:"starts_at"`
	// Status は予約の状態。"pending" の場合のみ通知対象になる。
	Status string `json:"status"`
}

// BookingNotifiedData はBookingNotifiedイベントのデータ。
// notificationSentフラグと送信日時を予約レコードに書き戻すために使用する。
type BookingNotifiedData struct {
	// NotificationSent は通知ファンアウトが実行されたことを表す。常にtrue。
	NotificationSent bool `json:"notification_sent"`
	// NotifiedAt は通知を送信したサーバー側日時。
	NotifiedAt time.Time `json:"notified_at"`
	// Delivered は配送に成功した購読者の数。
	Delivered int `json:"delivered"`
	// Failed は配送に失敗した購読者の数。
	Failed int `json:"failed"`
}

// SubscriberRegisteredData はSubscriberRegisteredイベントのデータ。
type SubscriberRegisteredData struct {
	// SubjectID は購読者の識別子。
	SubjectID string `json:"subject_id"`
	// GroupID は購読者が属する店舗のID。
	GroupID string `json:"group_id"`
	// Role は購読者の役割（admin | staff | other）。
	Role string `json:"role"`
	// ChannelKind は登録されたチャネルの種類（gateway | webpush）。
	ChannelKind string `json:"channel_kind"`
}

// SubscriberInvalidatedData はSubscriberInvalidatedイベントのデータ。
type SubscriberInvalidatedData struct {
	// SubjectID は購読者の識別子。
	SubjectID string `json:"subject_id"`
	// Reason はチャネルが無効と判定された理由。
	Reason string `json:"reason"`
}
