// Package event は予約通知サブシステムで共有されるイベント定義を提供する。
//
// 予約サービスが発行するBookingCreatedと、Dispatch Gatewayが書き戻す
// BookingNotified、購読者登録・無効化の監査イベントを定義する。
package event
