package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// スキーマ定義。db/gateway/schema.sql と同期すること。
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    login_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    role TEXT NOT NULL,
    display_name TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    last_login_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_login_id
    ON accounts(login_id);

CREATE INDEX IF NOT EXISTS idx_accounts_group_id
    ON accounts(group_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}

// Account は店舗アカウントを表す。
type Account struct {
	// ID はアカウントの一意識別子。
	ID string
	// LoginID はログインに使う識別子。
	LoginID string
	// GroupID はアカウントが属する店舗のID。
	GroupID string
	// Role はアカウントの役割（admin | staff | other）。
	Role string
	// DisplayName は表示名。
	DisplayName string
	// CreatedAt はアカウントの作成日時。
	CreatedAt time.Time
	// LastLoginAt は最終ログイン日時。
	LastLoginAt time.Time
}

// Queries はアカウントストアに対するクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// NewQueries は新しいクエリ実行オブジェクトを生成する。
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// CreateAccountParams はCreateAccountのパラメータ。
type CreateAccountParams struct {
	// ID はアカウントの一意識別子。
	ID string
	// LoginID はログインに使う識別子。
	LoginID string
	// GroupID はアカウントが属する店舗のID。
	GroupID string
	// Role はアカウントの役割。
	Role string
	// DisplayName は表示名。
	DisplayName string
}

// CreateAccount は店舗アカウントを作成する。
func (q *Queries) CreateAccount(ctx context.Context, params CreateAccountParams) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (id, login_id, group_id, role, display_name) VALUES (?, ?, ?, ?, ?)`,
		params.ID, params.LoginID, params.GroupID, params.Role, params.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗: %w", err)
	}
	return nil
}

// GetAccountByID はIDでアカウントを取得する。
func (q *Queries) GetAccountByID(ctx context.Context, id string) (Account, error) {
	return q.get(ctx, `SELECT id, login_id, group_id, role, display_name, created_at, last_login_at
		FROM accounts WHERE id = ?`, id)
}

// GetAccountByLoginID はログインIDでアカウントを取得する。
func (q *Queries) GetAccountByLoginID(ctx context.Context, loginID string) (Account, error) {
	return q.get(ctx, `SELECT id, login_id, group_id, role, display_name, created_at, last_login_at
		FROM accounts WHERE login_id = ?`, loginID)
}

// UpdateLastLogin は最終ログイン日時を現在時刻に更新する。
func (q *Queries) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET last_login_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("最終ログイン日時の更新に失敗: %w", err)
	}
	return nil
}

// get はアカウント取得クエリの共通処理。
func (q *Queries) get(ctx context.Context, query string, arg any) (Account, error) {
	var a Account
	err := q.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.LoginID, &a.GroupID, &a.Role, &a.DisplayName, &a.CreatedAt, &a.LastLoginAt,
	)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}
