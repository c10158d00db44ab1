package event

import "testing"

// TestTypeConstants はType定数の値を検証する。
// ポーリング側がイベントタイプ文字列で分岐するため、値の安定性を保証する。
func TestTypeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  Type
		want string
	}{
		{
			name: "TypeBookingCreatedの値が正しいこと",
			got:  TypeBookingCreated,
			want: "BookingCreated",
		},
		{
			name: "TypeBookingNotifiedの値が正しいこと",
			got:  TypeBookingNotified,
			want: "BookingNotified",
		},
		{
			name: "TypeSubscriberRegisteredの値が正しいこと",
			got:  TypeSubscriberRegistered,
			want: "SubscriberRegistered",
		},
		{
			name: "TypeSubscriberInvalidatedの値が正しいこと",
			got:  TypeSubscriberInvalidated,
			want: "SubscriberInvalidated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if string(tt.got) != tt.want {
				t.Errorf("Type = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
