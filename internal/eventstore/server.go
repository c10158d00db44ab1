package eventstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/salonpush/pkg/middleware"
)

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はイベントストアのクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewServer は新しいイベントストアサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	dsn := os.Getenv("DB_PATH")
	if dsn == "" {
		dsn = "/data/eventstore.db?_journal_mode=WAL&_busy_timeout=5000"
	}
	sqlDB, err := Open(dsn)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		port:    port,
		queries: New(sqlDB),
		db:      sqlDB,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		events := api.Group("/events")
		{
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// AggregateIDによるイベント取得
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// イベントタイプによるイベント取得
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得（クエリパラメータ: since）
			events.GET("/since", s.handleGetEventsSince())
			// AggregateIDの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
}

// appendEventRequest はイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id" binding:"required"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type" binding:"required"`
	// EventType はイベントの種類。
	EventType string `json:"event_type" binding:"required"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data" binding:"required"`
}

// eventResponse はイベントのJSONレスポンス構造。
type eventResponse struct {
	// ID はイベントの一意識別子。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType string `json:"event_type"`
	// Data はイベント固有のデータ（JSON文字列）。
	Data string `json:"data"`
	// Version はAggregate内での順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントの作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toEventResponse はDB行をJSONレスポンスに変換する。
func toEventResponse(e StoredEvent) eventResponse {
	return eventResponse{
		ID:            e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Data:          e.Data,
		Version:       e.Version,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toEventResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toEventResponses(events []StoredEvent) []eventResponse {
	responses := make([]eventResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, toEventResponse(e))
	}
	return responses
}

// handleAppendEvent はイベントの追記を処理するハンドラを返す。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if !json.Valid(req.Data) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dataが有効なJSONではありません"})
			return
		}

		stored, err := s.queries.AppendEvent(c.Request.Context(), AppendEventParams{
			ID:            uuid.New().String(),
			AggregateID:   req.AggregateID,
			AggregateType: req.AggregateType,
			EventType:     req.EventType,
			Data:          string(req.Data),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの追記に失敗しました"})
			log.Printf("[EventStore] イベント追記エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toEventResponse(stored))
	}
}

// handleGetEventsByAggregateID はAggregateIDによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")

		events, err := s.queries.ListByAggregateID(c.Request.Context(), aggregateID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("[EventStore] イベント取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toEventResponses(events))
	}
}

// handleGetEventsByType はイベントタイプによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		eventType := c.Param("event_type")

		events, err := s.queries.ListByEventType(c.Request.Context(), eventType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("[EventStore] イベント取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toEventResponses(events))
	}
}

// handleGetEventsSince は日時指定によるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		sinceParam := c.Query("since")
		if sinceParam == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceクエリパラメータが必要です"})
			return
		}

		since, err := time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceはRFC3339形式で指定してください"})
			return
		}

		events, err := s.queries.ListSince(c.Request.Context(), since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			log.Printf("[EventStore] イベント取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toEventResponses(events))
	}
}

// handleGetLatestVersion はAggregateIDの最新バージョン取得を処理するハンドラを返す。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")

		version, err := s.queries.LatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "バージョンの取得に失敗しました"})
			log.Printf("[EventStore] バージョン取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "version": version})
	}
}
