package registry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
	"github.com/nao1215/salonpush/pkg/migration"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Role は購読者の役割を表す。
type Role string

const (
	// RoleAdmin は店舗の管理者を表す。
	RoleAdmin Role = "admin"
	// RoleStaff は店舗のスタッフ（理容師）を表す。
	RoleStaff Role = "staff"
	// RoleOther はその他の購読者を表す。
	RoleOther Role = "other"
)

// ChannelKind は購読チャネルの種類を表す。
type ChannelKind string

const (
	// ChannelNone はチャネル未登録を表す。
	ChannelNone ChannelKind = ""
	// ChannelGateway はゲートウェイ発行のメッセージングトークンを表す。
	ChannelGateway ChannelKind = "gateway"
	// ChannelWebPush はブラウザのプッシュサービスが直接発行したエンドポイントを表す。
	ChannelWebPush ChannelKind = "webpush"
)

// Validity はチャネルの有効性を表す。
type Validity string

const (
	// ValidityValid はチャネルが配送可能であることを表す。
	ValidityValid Validity = "valid"
	// ValidityInvalid はチャネルが無効と判定されたことを表す。
	ValidityInvalid Validity = "invalid"
)

// Subscriber は購読者レコードを表す。(ユーザー, デバイス)ペアごとに1行。
type Subscriber struct {
	// SubjectID は購読者の一意識別子。
	SubjectID string
	// GroupID は購読者が属する店舗のID。
	GroupID string
	// Role は購読者の役割。
	Role Role
	// ChannelKind はチャネルの種類。
	ChannelKind ChannelKind
	// GatewayToken はゲートウェイ発行のメッセージングトークン。
	GatewayToken string
	// Endpoint はWeb PushエンドポイントURL。
	Endpoint string
	// P256dhKey はWeb Push暗号化用の公開鍵。
	P256dhKey string
	// AuthKey はWeb Push認証シークレット。
	AuthKey string
	// PlatformHint は実行環境のヒント（mobile | desktop）。
	PlatformHint string
	// Standalone はインストール済みアプリとして動作しているか。
	Standalone bool
	// UserAgent は診断用のUser-Agent文字列。
	UserAgent string
	// Validity はチャネルの有効性。
	Validity Validity
	// InvalidReason は無効と判定された理由。
	InvalidReason string
	// InvalidatedAt は無効と判定された日時。
	InvalidatedAt sql.NullTime
	// LastUpdated は最終更新日時。
	LastUpdated time.Time
}

// ChannelKey はチャネルを一意に識別するキーを返す。
// ゲートウェイチャネルはトークン、Web Pushチャネルはエンドポイントが該当する。
func (s *Subscriber) ChannelKey() string {
	switch s.ChannelKind {
	case ChannelGateway:
		return s.GatewayToken
	case ChannelWebPush:
		return s.Endpoint
	default:
		return ""
	}
}

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := migration.Run(db, migrationFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーション適用に失敗: %w", err)
	}
	return db, nil
}

// Queries は購読者レジストリに対するクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// UpsertSubscriberParams はUpsertSubscriberのパラメータ。
// 空文字列のフィールドは「指定なし」として既存値が保持される。
type UpsertSubscriberParams struct {
	// SubjectID は購読者の一意識別子。必須。
	SubjectID string
	// GroupID は購読者が属する店舗のID。
	GroupID string
	// Role は購読者の役割。
	Role Role
	// ChannelKind はチャネルの種類。指定された場合はチャネル関連の
	// 全フィールドが新しい値で置き換えられ、有効性がリセットされる。
	ChannelKind ChannelKind
	// GatewayToken はゲートウェイ発行のメッセージングトークン。
	GatewayToken string
	// Endpoint はWeb PushエンドポイントURL。
	Endpoint string
	// P256dhKey はWeb Push暗号化用の公開鍵。
	P256dhKey string
	// AuthKey はWeb Push認証シークレット。
	AuthKey string
	// PlatformHint は実行環境のヒント。
	PlatformHint string
	// Standalone はインストール済みアプリとして動作しているか。
	// nilの場合は既存値を保持する。
	Standalone *bool
	// UserAgent は診断用のUser-Agent文字列。
	UserAgent string
}

// upsertSubscriber は購読者レコードの冪等なアップサートSQL。
// subject_idをキーとし、同じ購読者を何度登録しても重複行は生まれない。
// チャネルが書き込まれた場合（excluded.channel_kind != ''）は
// チャネル関連フィールドを丸ごと新しい値で置き換え（freshest-wins）、
// 有効性をvalidに戻す。それ以外のフィールドはマージセマンティクス。
const upsertSubscriber = `
INSERT INTO subscribers (
    subject_id, group_id, role, channel_kind, gateway_token,
    endpoint, p256dh_key, auth_key, platform_hint, standalone, user_agent,
    validity, invalid_reason, invalidated_at, last_updated
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'valid', '', NULL, datetime('now'))
ON CONFLICT(subject_id) DO UPDATE SET
    group_id      = CASE WHEN excluded.group_id != ''      THEN excluded.group_id      ELSE subscribers.group_id      END,
    role          = CASE WHEN excluded.role != ''          THEN excluded.role          ELSE subscribers.role          END,
    channel_kind  = CASE WHEN excluded.channel_kind != ''  THEN excluded.channel_kind  ELSE subscribers.channel_kind  END,
    gateway_token = CASE WHEN excluded.channel_kind != ''  THEN excluded.gateway_token ELSE subscribers.gateway_token END,
    endpoint      = CASE WHEN excluded.channel_kind != ''  THEN excluded.endpoint      ELSE subscribers.endpoint      END,
    p256dh_key    = CASE WHEN excluded.channel_kind != ''  THEN excluded.p256dh_key    ELSE subscribers.p256dh_key    END,
    auth_key      = CASE WHEN excluded.channel_kind != ''  THEN excluded.auth_key      ELSE subscribers.auth_key      END,
    platform_hint = CASE WHEN excluded.platform_hint != '' THEN excluded.platform_hint ELSE subscribers.platform_hint END,
    standalone    = CASE WHEN ?                            THEN excluded.standalone    ELSE subscribers.standalone    END,
    user_agent    = CASE WHEN excluded.user_agent != ''    THEN excluded.user_agent    ELSE subscribers.user_agent    END,
    validity      = CASE WHEN excluded.channel_kind != ''  THEN 'valid' ELSE subscribers.validity       END,
    invalid_reason = CASE WHEN excluded.channel_kind != '' THEN ''      ELSE subscribers.invalid_reason END,
    invalidated_at = CASE WHEN excluded.channel_kind != '' THEN NULL    ELSE subscribers.invalidated_at END,
    last_updated  = datetime('now')
`

// UpsertSubscriber は購読者レコードを登録・更新する。
// subject_idをキーとした冪等な操作で、繰り返し呼び出しても安全。
func (q *Queries) UpsertSubscriber(ctx context.Context, params UpsertSubscriberParams) error {
	if params.SubjectID == "" {
		return fmt.Errorf("subject_idが指定されていません")
	}

	standalone := 0
	standaloneSet := false
	if params.Standalone != nil {
		standaloneSet = true
		if *params.Standalone {
			standalone = 1
		}
	}

	_, err := q.db.ExecContext(ctx, upsertSubscriber,
		params.SubjectID, params.GroupID, string(params.Role), string(params.ChannelKind),
		params.GatewayToken, params.Endpoint, params.P256dhKey, params.AuthKey,
		params.PlatformHint, standalone, params.UserAgent,
		standaloneSet,
	)
	if err != nil {
		return fmt.Errorf("購読者のアップサートに失敗: %w", err)
	}
	return nil
}

// subscriberColumns はSELECT句で使用するカラムリスト。
const subscriberColumns = `
    subject_id, group_id, role, channel_kind, gateway_token,
    endpoint, p256dh_key, auth_key, platform_hint, standalone, user_agent,
    validity, invalid_reason, invalidated_at, last_updated
`

// scanSubscriber は1行をSubscriber構造体に読み込む。
func scanSubscriber(row interface{ Scan(dest ...any) error }) (Subscriber, error) {
	var s Subscriber
	var standalone int64
	err := row.Scan(
		&s.SubjectID, &s.GroupID, &s.Role, &s.ChannelKind, &s.GatewayToken,
		&s.Endpoint, &s.P256dhKey, &s.AuthKey, &s.PlatformHint, &standalone, &s.UserAgent,
		&s.Validity, &s.InvalidReason, &s.InvalidatedAt, &s.LastUpdated,
	)
	s.Standalone = standalone != 0
	return s, err
}

// GetSubscriber はsubject_idで購読者レコードを取得する。
func (q *Queries) GetSubscriber(ctx context.Context, subjectID string) (Subscriber, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+subscriberColumns+" FROM subscribers WHERE subject_id = ?", subjectID)
	s, err := scanSubscriber(row)
	if err != nil {
		return Subscriber{}, fmt.Errorf("購読者の取得に失敗: %w", err)
	}
	return s, nil
}

// ListValidByGroupAndRole は指定された店舗・役割の有効な購読者のみを返す。
// ファンアウト時の配送対象の選択に使用する。
func (q *Queries) ListValidByGroupAndRole(ctx context.Context, groupID string, role Role) ([]Subscriber, error) {
	return q.listByGroupAndRole(ctx, groupID, role, true)
}

// ListByGroupAndRole は指定された店舗・役割の購読者を有効性に関係なく返す。
// 無効化された行も含むため、診断用途に使用する。
func (q *Queries) ListByGroupAndRole(ctx context.Context, groupID string, role Role) ([]Subscriber, error) {
	return q.listByGroupAndRole(ctx, groupID, role, false)
}

// listByGroupAndRole は購読者一覧取得の共通処理。
func (q *Queries) listByGroupAndRole(ctx context.Context, groupID string, role Role, validOnly bool) ([]Subscriber, error) {
	query := "SELECT " + subscriberColumns + " FROM subscribers WHERE group_id = ? AND role = ?"
	if validOnly {
		query += " AND validity = 'valid'"
	}
	query += " ORDER BY subject_id"

	rows, err := q.db.QueryContext(ctx, query, groupID, string(role))
	if err != nil {
		return nil, fmt.Errorf("購読者一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subscribers := make([]Subscriber, 0)
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("購読者行の読み込みに失敗: %w", err)
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

// markInvalidByChannel はチャネルキーに一致する行のチャネル値を消去し、
// 無効化の理由と日時を記録するSQL。行自体は監査のために残す。
const markInvalidByChannel = `
UPDATE subscribers SET
    channel_kind = '',
    gateway_token = '',
    endpoint = '',
    p256dh_key = '',
    auth_key = '',
    validity = 'invalid',
    invalid_reason = ?,
    invalidated_at = datetime('now'),
    last_updated = datetime('now')
WHERE (gateway_token = ? AND gateway_token != '')
   OR (endpoint = ? AND endpoint != '')
RETURNING subject_id
`

// MarkInvalidByChannel はチャネルキー（ゲートウェイトークンまたはエンドポイント）に
// 一致する購読者を無効化し、影響を受けたsubject_idの一覧を返す。
// Dispatch Gatewayが「recipient no longer registered」エラーを観測したときに呼ぶ。
func (q *Queries) MarkInvalidByChannel(ctx context.Context, channelKey, reason string) ([]string, error) {
	if channelKey == "" {
		return nil, fmt.Errorf("チャネルキーが指定されていません")
	}

	rows, err := q.db.QueryContext(ctx, markInvalidByChannel, reason, channelKey, channelKey)
	if err != nil {
		return nil, fmt.Errorf("購読者の無効化に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subjectIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("無効化結果の読み込みに失敗: %w", err)
		}
		subjectIDs = append(subjectIDs, id)
	}
	return subjectIDs, rows.Err()
}
