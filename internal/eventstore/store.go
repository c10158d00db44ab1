package eventstore

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

// sqliteTimeLayout はSQLiteのdatetime('now')が生成する日時フォーマット。
// created_at列との文字列比較に使用する。
const sqliteTimeLayout = "2006-01-02 15:04:05"

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

// StoredEvent は永続化されたイベントの1行を表す。
type StoredEvent struct {
	// ID はイベントの一意識別子。
	ID string
	// AggregateID は対象エンティティの識別子。
	AggregateID string
	// AggregateType は対象エンティティの種類。
	AggregateType string
	// EventType はイベントの種類。
	EventType string
	// Data はイベント固有のデータ（JSON文字列）。
	Data string
	// Version はAggregate内での順序番号。
	Version int64
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time
}

// Queries はイベントストアに対するクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// AppendEventParams はAppendEventのパラメータ。
type AppendEventParams struct {
	// ID はイベントの一意識別子。
	ID string
	// AggregateID は対象エンティティの識別子。
	AggregateID string
	// AggregateType は対象エンティティの種類。
	AggregateType string
	// EventType はイベントの種類。
	EventType string
	// Data はイベント固有のデータ（JSON文字列）。
	Data string
}

// AppendEvent はAggregateの次のバージョン番号を採番してイベントを追記する。
// (aggregate_id, version)の一意制約により、並行追記でも番号は重複しない。
func (q *Queries) AppendEvent(ctx context.Context, params AppendEventParams) (StoredEvent, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		params.AggregateID,
	).Scan(&current); err != nil {
		return StoredEvent{}, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}

	stored := StoredEvent{
		ID:            params.ID,
		AggregateID:   params.AggregateID,
		AggregateType: params.AggregateType,
		EventType:     params.EventType,
		Data:          params.Data,
		Version:       current + 1,
	}
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING created_at`,
		stored.ID, stored.AggregateID, stored.AggregateType, stored.EventType, stored.Data, stored.Version,
	).Scan(&stored.CreatedAt); err != nil {
		return StoredEvent{}, fmt.Errorf("イベントの追記に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StoredEvent{}, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return stored, nil
}

// ListByAggregateID はAggregateの全イベントをバージョン順に返す。
func (q *Queries) ListByAggregateID(ctx context.Context, aggregateID string) ([]StoredEvent, error) {
	return q.list(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events WHERE aggregate_id = ? ORDER BY version`,
		aggregateID)
}

// ListByEventType は指定種類の全イベントを作成日時順に返す。
func (q *Queries) ListByEventType(ctx context.Context, eventType string) ([]StoredEvent, error) {
	return q.list(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events WHERE event_type = ? ORDER BY created_at, version`,
		eventType)
}

// ListSince は指定日時以降（同時刻を含む）に作成されたイベントを作成日時順に返す。
// created_atは秒精度のため、境界を含めないと同一秒内に後から追記された
// イベントが取りこぼされる。重複はポーリング側がイベントIDで除外する。
func (q *Queries) ListSince(ctx context.Context, since time.Time) ([]StoredEvent, error) {
	return q.list(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at
		 FROM events WHERE created_at >= ? ORDER BY created_at, version`,
		since.UTC().Format(sqliteTimeLayout))
}

// LatestVersion はAggregateの最新バージョン番号を返す。イベントがなければ0。
func (q *Queries) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}
	return version, nil
}

// list はイベント取得クエリの共通処理。結果が空の場合は空スライスを返す。
func (q *Queries) list(ctx context.Context, query string, args ...any) ([]StoredEvent, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Data, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("イベント行の読み取りに失敗: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベント行の走査に失敗: %w", err)
	}
	return events, nil
}
