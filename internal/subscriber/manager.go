package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/salonpush/internal/keyexchange"
	"github.com/nao1215/salonpush/pkg/httpclient"
)

// defaultConfirmDelay は購読成功後にローカル確認通知を表示するまでの待ち時間。
const defaultConfirmDelay = 2 * time.Second

// UserContext は購読登録時にレジストリへ書き込むユーザーのメタデータ。
type UserContext struct {
	// SubjectID は(ユーザー, デバイス)ペアの一意識別子。
	// ユーザーIDそのもの、またはユーザーIDに「:」区切りで
	// デバイス識別子を続けた形式をとる。
	SubjectID string
	// GroupID はユーザーが属する店舗のID。
	GroupID string
	// Role はユーザーの役割（admin | staff | other）。
	Role string
	// PlatformHint は実行環境のヒント（mobile | desktop）。
	PlatformHint string
	// Standalone はインストール済みアプリとして動作しているか。
	Standalone bool
	// UserAgent は診断用のUser-Agent文字列。
	UserAgent string
}

// Config はManagerの生成パラメータ。
type Config struct {
	// Prompter は通知許可プロンプト。
	Prompter PermissionPrompter
	// Worker はバックグラウンド実行コンテキストの登録。
	Worker WorkerRegistrar
	// Push はブラウザのプッシュサービス。
	Push PushService
	// Tokens はゲートウェイトークンの取得元。
	Tokens TokenSource
	// Notifier はローカル通知の表示先。
	Notifier LocalNotifier
	// Keys はVAPID公開鍵の取得元。
	Keys *keyexchange.Service
	// Registry は購読者レジストリAPIへのHTTPクライアント。
	// レジストリAPIはJWT認証を要求するため、WithBearerTokenまたは
	// SetBearerTokenで認証トークンを設定しておく。
	Registry *httpclient.Client
	// ConfirmDelay はローカル確認通知までの待ち時間。0の場合はデフォルト値。
	ConfirmDelay time.Duration
}

// Manager は通知許可と購読のライフサイクルを管理するクライアント常駐の状態機械。
// プロセスごとに1つ生成し、参照で引き回す。クライアントの実行モデルは
// 単一の協調スレッドを前提とするため、状態フィールドにロックは持たない。
type Manager struct {
	prompter PermissionPrompter
	worker   WorkerRegistrar
	push     PushService
	tokens   TokenSource
	notifier LocalNotifier
	keys     *keyexchange.Service
	registry *httpclient.Client

	confirmDelay time.Duration

	// permission は通知許可の現在状態。
	permission PermissionState
	// subscription はプッシュ購読の現在状態。
	subscription SubscriptionState
}

// NewManager は新しい購読マネージャーを生成する。
func NewManager(cfg Config) *Manager {
	confirmDelay := cfg.ConfirmDelay
	if confirmDelay <= 0 {
		confirmDelay = defaultConfirmDelay
	}

	return &Manager{
		prompter:     cfg.Prompter,
		worker:       cfg.Worker,
		push:         cfg.Push,
		tokens:       cfg.Tokens,
		notifier:     cfg.Notifier,
		keys:         cfg.Keys,
		registry:     cfg.Registry,
		confirmDelay: confirmDelay,
		permission:   PermissionNotDetermined,
		subscription: SubscriptionAbsent,
	}
}

// Permission は通知許可の現在状態を返す。
func (m *Manager) Permission() PermissionState {
	return m.permission
}

// Subscription はプッシュ購読の現在状態を返す。
func (m *Manager) Subscription() SubscriptionState {
	return m.subscription
}

// RequestPermission は通知許可を要求し、決定後の状態を返す。
// 拒否は同一セッション内の終端状態で、再プロンプトは行わない。
func (m *Manager) RequestPermission(ctx context.Context) (PermissionState, error) {
	switch m.permission {
	case PermissionGranted:
		return PermissionGranted, nil
	case PermissionDenied:
		return PermissionDenied, fmt.Errorf("%w: %s", ErrPermissionDenied, PermissionRemediation)
	}

	state, err := m.prompter.RequestPermission(ctx)
	if err != nil {
		return m.permission, stageErr(StagePermission, err)
	}

	m.permission = state
	if state == PermissionDenied {
		return PermissionDenied, fmt.Errorf("%w: %s", ErrPermissionDenied, PermissionRemediation)
	}
	return state, nil
}

// Subscribe はWeb Push購読のフルシーケンスを実行する。
// 許可 → 実行コンテキスト登録 → 有効化待ち → 既存購読の破棄 →
// 交換済み公開鍵での購読開設 → レジストリへの永続化、の順に進む。
// 既存の購読は鍵のローテーション後の不一致を防ぐため再利用せず常に作り直す。
func (m *Manager) Subscribe(ctx context.Context, user UserContext) error {
	if _, err := m.RequestPermission(ctx); err != nil {
		return err
	}

	if err := m.prepareWorker(ctx); err != nil {
		return err
	}

	existing, err := m.push.Existing(ctx)
	if err != nil {
		return stageErr(StageSubscribe, err)
	}
	if existing != nil {
		m.subscription = SubscriptionStale
		if err := m.push.Unsubscribe(ctx, existing); err != nil {
			return stageErr(StageSubscribe, err)
		}
		m.subscription = SubscriptionAbsent
	}

	m.subscription = SubscriptionRegistering

	publicKey, err := m.keys.PublicKey(ctx)
	if err != nil {
		m.subscription = SubscriptionAbsent
		return stageErr(StageSubscribe, err)
	}

	sub, err := m.push.Subscribe(ctx, publicKey)
	if err != nil {
		m.subscription = SubscriptionAbsent
		return stageErr(StageSubscribe, err)
	}

	if err := m.persist(ctx, registerRequest{
		SubjectID:    user.SubjectID,
		GroupID:      user.GroupID,
		Role:         user.Role,
		ChannelKind:  "webpush",
		Endpoint:     sub.Endpoint,
		P256dhKey:    sub.P256dh,
		AuthKey:      sub.Auth,
		PlatformHint: user.PlatformHint,
		Standalone:   &user.Standalone,
		UserAgent:    user.UserAgent,
	}); err != nil {
		m.subscription = SubscriptionAbsent
		return stageErr(StagePersist, err)
	}

	m.subscription = SubscriptionActive
	m.scheduleConfirmation()
	return nil
}

// SubscribeGateway はゲートウェイトークンによる購読シーケンスを実行する。
// トークン取得APIは鍵ヒントの有無どちらでも受け付けるため、
// まずヒントなしで試み、失敗した場合のみ明示的な鍵ヒント付きで1回だけ再試行する。
func (m *Manager) SubscribeGateway(ctx context.Context, user UserContext) error {
	if _, err := m.RequestPermission(ctx); err != nil {
		return err
	}

	if err := m.prepareWorker(ctx); err != nil {
		return err
	}

	m.subscription = SubscriptionRegistering

	token, err := m.tokens.Token(ctx, "")
	if err != nil {
		if errors.Is(err, ErrUnsupportedRuntime) {
			m.subscription = SubscriptionAbsent
			return err
		}

		publicKey, keyErr := m.keys.PublicKey(ctx)
		if keyErr != nil {
			m.subscription = SubscriptionAbsent
			return stageErr(StageToken, keyErr)
		}

		token, err = m.tokens.Token(ctx, publicKey)
		if err != nil {
			m.subscription = SubscriptionAbsent
			return stageErr(StageToken, err)
		}
	}

	if err := m.persist(ctx, registerRequest{
		SubjectID:    user.SubjectID,
		GroupID:      user.GroupID,
		Role:         user.Role,
		ChannelKind:  "gateway",
		GatewayToken: token,
		PlatformHint: user.PlatformHint,
		Standalone:   &user.Standalone,
		UserAgent:    user.UserAgent,
	}); err != nil {
		m.subscription = SubscriptionAbsent
		return stageErr(StagePersist, err)
	}

	m.subscription = SubscriptionActive
	m.scheduleConfirmation()
	return nil
}

// SendTestNotification はサーバーを経由せずローカル通知を表示する。
// エンドツーエンドの表示能力をサーバー経路に依存せず確認するために使用する。
func (m *Manager) SendTestNotification(ctx context.Context) error {
	if m.permission != PermissionGranted {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, PermissionRemediation)
	}
	return m.notifier.Show(ctx, "テスト通知", "通知の表示設定は正常です。")
}

// prepareWorker はバックグラウンド実行コンテキストを登録し、有効化を待つ。
// 登録は冪等なので購読シーケンスのたびに呼んでよい。
func (m *Manager) prepareWorker(ctx context.Context) error {
	if err := m.worker.Register(ctx); err != nil {
		return stageErr(StageWorkerRegistration, err)
	}
	if err := m.worker.AwaitActivation(ctx); err != nil {
		return stageErr(StageWorkerRegistration, err)
	}
	return nil
}

// registerRequest は購読者レジストリAPIへの登録リクエストのJSON構造。
type registerRequest struct {
	// SubjectID は購読者の一意識別子。
	SubjectID string `json:"subject_id"`
	// GroupID は購読者が属する店舗のID。
	GroupID string `json:"group_id"`
	// Role は購読者の役割。
	Role string `json:"role"`
	// ChannelKind はチャネルの種類（gateway | webpush）。
	ChannelKind string `json:"channel_kind"`
	// GatewayToken はゲートウェイ発行のメッセージングトークン。
	GatewayToken string `json:"gateway_token,omitempty"`
	// Endpoint はWeb PushエンドポイントURL。
	Endpoint string `json:"endpoint,omitempty"`
	// P256dhKey はWeb Push暗号化用の公開鍵。
	P256dhKey string `json:"p256dh_key,omitempty"`
	// AuthKey はWeb Push認証シークレット。
	AuthKey string `json:"auth_key,omitempty"`
	// PlatformHint は実行環境のヒント。
	PlatformHint string `json:"platform_hint,omitempty"`
	// Standalone はインストール済みアプリとして動作しているか。
	Standalone *bool `json:"standalone,omitempty"`
	// UserAgent は診断用のUser-Agent文字列。
	UserAgent string `json:"user_agent,omitempty"`
}

// persist は購読情報をレジストリAPIへ書き込む。
func (m *Manager) persist(ctx context.Context, req registerRequest) error {
	ctx = httpclient.WithUserID(ctx, req.SubjectID)
	if err := m.registry.PostJSON(ctx, "/api/v1/push/subscribers", req, nil); err != nil {
		return fmt.Errorf("レジストリへの永続化に失敗: %w", err)
	}
	return nil
}

// scheduleConfirmation は短い遅延の後にローカル確認通知を表示する。
// サーバー経路に依存せずエンドツーエンドの配送能力を確認するための通知で、
// 失敗しても購読自体の成否には影響しない。
func (m *Manager) scheduleConfirmation() {
	time.AfterFunc(m.confirmDelay, func() {
		if err := m.notifier.Show(context.Background(), "通知を有効にしました", "新しい予約が入るとお知らせします。"); err != nil {
			log.Printf("[Subscriber] 確認通知の表示に失敗: %v", err)
		}
	})
}
