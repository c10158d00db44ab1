package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/salonpush/internal/registry"
	"github.com/nao1215/salonpush/pkg/event"
	"github.com/nao1215/salonpush/pkg/httpclient"
	"github.com/nao1215/salonpush/pkg/middleware"
)

// Server は通知配送サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries は購読者レジストリのクエリ実行オブジェクト。
	queries *registry.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// dispatcher は通知の配送を行う。
	dispatcher *Dispatcher
	// eventStoreClient はEvent Storeサービスへの通信クライアント。
	eventStoreClient *httpclient.Client
	// vapidPublicKey はクライアントに配布するVAPID公開鍵。
	vapidPublicKey string
}

// NewServer は新しい配送サーバーを生成する。
// SQLiteデータベースの初期化と送信実装の構築を行う。
func NewServer(port string) (*Server, error) {
	dsn := os.Getenv("DB_PATH")
	if dsn == "" {
		dsn = "/data/salonpush.db?_journal_mode=WAL&_busy_timeout=5000"
	}
	sqlDB, err := registry.Open(dsn)
	if err != nil {
		return nil, err
	}

	eventStoreURL := os.Getenv("EVENTSTORE_URL")
	if eventStoreURL == "" {
		eventStoreURL = "http://localhost:8084"
	}

	gateway, err := newGatewaySenderFromEnv()
	if err != nil {
		return nil, err
	}
	webpushSender := NewWebPushSender(
		os.Getenv("VAPID_SUBSCRIBER"),
		os.Getenv("VAPID_PUBLIC_KEY"),
		os.Getenv("VAPID_PRIVATE_KEY"),
	)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		router.Use(middleware.CORS(strings.Split(origins, ",")))
	}

	queries := registry.New(sqlDB)
	s := &Server{
		router:           router,
		port:             port,
		queries:          queries,
		db:               sqlDB,
		dispatcher:       NewDispatcher(queries, gateway, webpushSender),
		eventStoreClient: httpclient.New(eventStoreURL),
		vapidPublicKey:   os.Getenv("VAPID_PUBLIC_KEY"),
	}
	s.setupRoutes()

	return s, nil
}

// newGatewaySenderFromEnv は認証情報ファイルが設定されていればFCMSenderを、
// なければ常にエラーを返すプレースホルダーを返す。
// ローカル開発ではゲートウェイ経路なしで起動できる。
func newGatewaySenderFromEnv() (GatewaySender, error) {
	credentialsFile := os.Getenv("FCM_CREDENTIALS_FILE")
	if credentialsFile == "" {
		log.Printf("[Dispatch] FCM_CREDENTIALS_FILEが未設定のためゲートウェイ経路は無効です")
		return disabledGatewaySender{}, nil
	}
	return NewFCMSender(context.Background(), credentialsFile)
}

// disabledGatewaySender はゲートウェイ経路が未設定のときの送信実装
type disabledGatewaySender struct{}

// Send は常にエラーを返す
func (disabledGatewaySender) Send(_ context.Context, _ string, _ *Payload) (string, error) {
	return "", fmt.Errorf("ゲートウェイ経路が設定されていません")
}

// Dispatcher はこのサーバーが使う配送オブジェクトを返す。
// イベントポーラーと共有するために公開している。
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// EventStoreClient はEvent Storeへの通信クライアントを返す。
func (s *Server) EventStoreClient() *httpclient.Client {
	return s.eventStoreClient
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	// VAPID公開鍵は購読開始前のクライアントにも必要なため認証不要
	s.router.GET("/api/v1/push/public-key", s.handlePublicKey())

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		push := api.Group("/push")
		{
			// 購読者の登録・更新
			push.POST("/subscribers", s.handleRegisterSubscriber())
			// 購読者一覧取得（診断用）
			push.GET("/subscribers", s.handleListSubscribers())
			// 通知のオンデマンド送信
			push.POST("/send", s.handleSendPush())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "dispatch"})
	})
}

// handlePublicKey はVAPID公開鍵を返すハンドラ。
// クライアントはこの鍵でプッシュ購読を作成する。
func (s *Server) handlePublicKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.vapidPublicKey == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "VAPID公開鍵が設定されていません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"public_key": s.vapidPublicKey})
	}
}

// registerSubscriberRequest は購読者登録リクエストのJSON構造。
type registerSubscriberRequest struct {
	// SubjectID は購読者の一意識別子。
	SubjectID string `json:"subject_id" binding:"required"`
	// GroupID は購読者が属する店舗のID。
	GroupID string `json:"group_id" binding:"required"`
	// Role は購読者の役割（admin | staff | other）。
	Role string `json:"role" binding:"required"`
	// ChannelKind はチャネルの種類（gateway | webpush）。省略時はチャネル以外のみ更新する。
	ChannelKind string `json:"channel_kind"`
	// GatewayToken はゲートウェイ発行のメッセージングトークン。
	GatewayToken string `json:"gateway_token"`
	// Endpoint はWeb PushエンドポイントURL。
	Endpoint string `json:"endpoint"`
	// P256dhKey はWeb Push暗号化用の公開鍵。
	P256dhKey string `json:"p256dh_key"`
	// AuthKey はWeb Push認証シークレット。
	AuthKey string `json:"auth_key"`
	// PlatformHint は実行環境のヒント（mobile | desktop）。
	PlatformHint string `json:"platform_hint"`
	// Standalone はインストール済みアプリとして動作しているか。省略時は既存値を保持する。
	Standalone *bool `json:"standalone"`
	// UserAgent は診断用のUser-Agent文字列。
	UserAgent string `json:"user_agent"`
}

// validate はチャネル種別と鍵情報の組み合わせを検証する
func (r *registerSubscriberRequest) validate() error {
	switch registry.ChannelKind(r.ChannelKind) {
	case registry.ChannelNone:
		return nil
	case registry.ChannelGateway:
		if r.GatewayToken == "" {
			return fmt.Errorf("gateway_tokenが必要です")
		}
	case registry.ChannelWebPush:
		if r.Endpoint == "" || r.P256dhKey == "" || r.AuthKey == "" {
			return fmt.Errorf("endpoint、p256dh_key、auth_keyが必要です")
		}
	default:
		return fmt.Errorf("不明なチャネル種別です: %s", r.ChannelKind)
	}
	return nil
}

// ownsSubject はsubjectIDが認証済みユーザー自身の購読を指すか判定する。
// subject IDはユーザーIDそのもの、またはデバイスを区別するために
// ユーザーIDに「:」区切りでデバイス識別子を続けた形式をとる。
func ownsSubject(userID, subjectID string) bool {
	return subjectID == userID || strings.HasPrefix(subjectID, userID+":")
}

// handleRegisterSubscriber は購読者を登録・更新するハンドラ。
// 同じsubject_idでの再登録は冪等で、チャネルが書き込まれた場合は
// 非同期で検証プローブを送る。
func (s *Server) handleRegisterSubscriber() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerSubscriberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := req.validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// 登録は認証済みユーザー本人の購読に対してのみ許可する
		if userID := middleware.GetUserID(c); userID != "" && !ownsSubject(userID, req.SubjectID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "他のユーザーの購読は登録できません"})
			return
		}

		if err := s.queries.UpsertSubscriber(c.Request.Context(), registry.UpsertSubscriberParams{
			SubjectID:    req.SubjectID,
			GroupID:      req.GroupID,
			Role:         registry.Role(req.Role),
			ChannelKind:  registry.ChannelKind(req.ChannelKind),
			GatewayToken: req.GatewayToken,
			Endpoint:     req.Endpoint,
			P256dhKey:    req.P256dhKey,
			AuthKey:      req.AuthKey,
			PlatformHint: req.PlatformHint,
			Standalone:   req.Standalone,
			UserAgent:    req.UserAgent,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読者の登録に失敗しました"})
			log.Printf("[Dispatch] 購読者登録エラー: %v", err)
			return
		}

		s.appendEvent(c.Request.Context(), fmt.Sprintf("subscriber-%s", req.SubjectID),
			event.TypeSubscriberRegistered, event.SubscriberRegisteredData{
				SubjectID:   req.SubjectID,
				GroupID:     req.GroupID,
				Role:        req.Role,
				ChannelKind: req.ChannelKind,
			})

		// チャネルが書き込まれたら非同期で生死を検証する
		if registry.ChannelKind(req.ChannelKind) != registry.ChannelNone {
			go s.reconcileSubscriber(req.SubjectID)
		}

		c.JSON(http.StatusCreated, gin.H{"message": "購読者を登録しました"})
	}
}

// subscriberResponse は購読者のJSONレスポンス構造。
type subscriberResponse struct {
	// SubjectID は購読者の一意識別子。
	SubjectID string `json:"subject_id"`
	// Role は購読者の役割。
	Role string `json:"role"`
	// ChannelKind はチャネルの種類。
	ChannelKind string `json:"channel_kind"`
	// PlatformHint は実行環境のヒント。
	PlatformHint string `json:"platform_hint"`
	// Standalone はインストール済みアプリとして動作しているか。
	Standalone bool `json:"standalone"`
	// Validity はチャネルの有効性。
	Validity string `json:"validity"`
	// InvalidReason は無効と判定された理由。
	InvalidReason string `json:"invalid_reason,omitempty"`
	// LastUpdated は最終更新日時（RFC3339形式）。
	LastUpdated string `json:"last_updated"`
}

// toSubscriberResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toSubscriberResponses(subscribers []registry.Subscriber) []subscriberResponse {
	responses := make([]subscriberResponse, 0, len(subscribers))
	for _, sub := range subscribers {
		responses = append(responses, subscriberResponse{
			SubjectID:     sub.SubjectID,
			Role:          string(sub.Role),
			ChannelKind:   string(sub.ChannelKind),
			PlatformHint:  sub.PlatformHint,
			Standalone:    sub.Standalone,
			Validity:      string(sub.Validity),
			InvalidReason: sub.InvalidReason,
			LastUpdated:   sub.LastUpdated.Format(time.RFC3339),
		})
	}
	return responses
}

// handleListSubscribers は認証済みユーザーの店舗の購読者一覧を返すハンドラ。
// 無効な購読者も含むため、配送トラブルの診断に使える。
func (s *Server) handleListSubscribers() gin.HandlerFunc {
	return func(c *gin.Context) {
		groupID := middleware.GetGroupID(c)
		if groupID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "店舗IDが取得できません"})
			return
		}

		role := registry.Role(c.DefaultQuery("role", string(registry.RoleAdmin)))
		subscribers, err := s.queries.ListByGroupAndRole(c.Request.Context(), groupID, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読者一覧の取得に失敗しました"})
			log.Printf("[Dispatch] 購読者一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toSubscriberResponses(subscribers))
	}
}

// sendPushRequest は通知のオンデマンド送信リクエストのJSON構造。
// 動作確認やアドホック通知に使うため、送信先チャネルを明示的に指定する。
type sendPushRequest struct {
	// ChannelKind はチャネルの種類（gateway | webpush）。
	ChannelKind string `json:"channel_kind"`
	// GatewayToken はゲートウェイ発行のメッセージングトークン。
	GatewayToken string `json:"gateway_token"`
	// Endpoint はWeb PushエンドポイントURL。
	Endpoint string `json:"endpoint"`
	// P256dhKey はWeb Push暗号化用の公開鍵。
	P256dhKey string `json:"p256dh_key"`
	// AuthKey はWeb Push認証シークレット。
	AuthKey string `json:"auth_key"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Body は通知の本文。
	Body string `json:"body" binding:"required"`
	// Data は通知に添付するキーバリューデータ。
	Data map[string]string `json:"data"`
}

// channel はリクエストから送信先チャネルを組み立てる。
// チャネルが未指定または不完全な場合はエラーを返す。
func (r *sendPushRequest) channel() (Channel, error) {
	switch registry.ChannelKind(r.ChannelKind) {
	case registry.ChannelGateway:
		if r.GatewayToken == "" {
			return Channel{}, fmt.Errorf("gateway_tokenが必要です")
		}
	case registry.ChannelWebPush:
		if r.Endpoint == "" || r.P256dhKey == "" || r.AuthKey == "" {
			return Channel{}, fmt.Errorf("endpoint、p256dh_key、auth_keyが必要です")
		}
	default:
		return Channel{}, fmt.Errorf("送信先チャネルが指定されていません")
	}
	return Channel{
		Kind:         registry.ChannelKind(r.ChannelKind),
		GatewayToken: r.GatewayToken,
		Endpoint:     r.Endpoint,
		P256dh:       r.P256dhKey,
		Auth:         r.AuthKey,
	}, nil
}

// handleSendPush は指定チャネルへ通知を1件送るハンドラ。
// 受信者消滅と分類された場合はレジストリの該当チャネルも無効化する。
func (s *Server) handleSendPush() gin.HandlerFunc {
	return func(c *gin.Context) {
		if middleware.GetUserID(c) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req sendPushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		channel, err := req.channel()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		data := req.Data
		if data == nil {
			data = map[string]string{}
		}
		if data["link"] == "" {
			data["link"] = DefaultLink
		}
		payload := &Payload{
			Title: req.Title,
			Body:  req.Body,
			Data:  data,
		}

		outcome := s.dispatcher.DispatchOne(c.Request.Context(), channel, payload)
		if !outcome.Delivered {
			if outcome.Reason == ReasonRecipientGone {
				s.dispatcher.invalidateChannel(c.Request.Context(), outcome.ChannelKey)
			}
			log.Printf("[Dispatch] 通知送信エラー: reason=%s err=%v", outcome.Reason, outcome.Err)
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "reason": string(outcome.Reason)})
			return
		}

		messageID := outcome.MessageID
		if messageID == "" {
			messageID = uuid.New().String()
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message_id": messageID})
	}
}

// appendEventRequest はEvent Storeへのイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType string `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
}

// appendEvent は購読者イベントをEvent Storeに送信する。
// イベント送信に失敗してもログに記録し、元の処理は成功として扱う。
func (s *Server) appendEvent(ctx context.Context, aggregateID string, eventType event.Type, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Dispatch] イベントデータシリアライズエラー: %v", err)
		return
	}

	req := appendEventRequest{
		AggregateID:   aggregateID,
		AggregateType: string(event.AggregateTypeSubscriber),
		EventType:     string(eventType),
		Data:          jsonData,
	}
	var resp map[string]any
	if err := s.eventStoreClient.PostJSON(ctx, "/api/v1/events", req, &resp); err != nil {
		log.Printf("[Dispatch] %sイベントの送信に失敗: %v", eventType, err)
	}
}
