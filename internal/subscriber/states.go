package subscriber

// PermissionState は通知許可の状態を表す。
type PermissionState string

const (
	// PermissionNotDetermined はユーザーがまだ許可を問われていない状態。
	PermissionNotDetermined PermissionState = "not-determined"
	// PermissionGranted はユーザーが通知を許可した状態。
	PermissionGranted PermissionState = "granted"
	// PermissionDenied はユーザーが通知を拒否した状態。
	// プラットフォームの制約上、同一セッション内での再プロンプトは許されない。
	PermissionDenied PermissionState = "denied"
)

// SubscriptionState はプッシュ購読の状態を表す。許可状態と直交する。
type SubscriptionState string

const (
	// SubscriptionAbsent は購読が存在しない状態。
	SubscriptionAbsent SubscriptionState = "absent"
	// SubscriptionRegistering は購読を開設中の状態。
	SubscriptionRegistering SubscriptionState = "registering"
	// SubscriptionActive は購読が有効でレジストリに永続化済みの状態。
	SubscriptionActive SubscriptionState = "active"
	// SubscriptionStale は既存の購読が検出されたが、鍵の不一致の可能性が
	// あるため破棄対象となっている状態。
	SubscriptionStale SubscriptionState = "stale"
)
