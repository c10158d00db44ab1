package gateway

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
	"github.com/nao1215/salonpush/pkg/middleware"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はアカウントストアのクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// serviceURLs は内部サービスのURL。
	serviceURLs serviceURLConfig
}

// serviceURLConfig は内部サービスのURL設定。
type serviceURLConfig struct {
	Dispatch   string
	EventStore string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(port string) (*Server, error) {
	dsn := os.Getenv("DB_PATH")
	if dsn == "" {
		dsn = "/data/gateway.db?_journal_mode=WAL&_busy_timeout=5000"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	urls := serviceURLConfig{
		Dispatch:   getEnvOr("DISPATCH_URL", "http://localhost:8086"),
		EventStore: getEnvOr("EVENTSTORE_URL", "http://localhost:8084"),
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:      router,
		port:        port,
		queries:     NewQueries(sqlDB),
		db:          sqlDB,
		jwtSecret:   jwtSecret,
		serviceURLs: urls,
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
	// 認証エンドポイント（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/accounts", s.handleCreateAccount())
		auth.POST("/login", s.handleLogin())
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	// VAPID公開鍵の取得（認証不要 - 購読開始前のクライアントが参照するため）
	s.router.GET("/api/v1/push/public-key", s.handleProxy(s.serviceURLs.Dispatch, "/api/v1/push/public-key"))

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// アカウント情報
		api.GET("/me", s.handleGetCurrentAccount())

		// 通知配送（プロキシ）
		api.POST("/push/subscribers", s.handleProxy(s.serviceURLs.Dispatch, "/api/v1/push/subscribers"))
		api.GET("/push/subscribers", s.handleProxy(s.serviceURLs.Dispatch, "/api/v1/push/subscribers"))
		api.POST("/push/send", s.handleProxy(s.serviceURLs.Dispatch, "/api/v1/push/send"))

		// イベントログ（プロキシ）
		api.GET("/events/aggregate/:aggregate_id", s.handleProxyWithParam(s.serviceURLs.EventStore, "/api/v1/events/aggregate/", "aggregate_id"))
		api.GET("/events/since", s.handleProxy(s.serviceURLs.EventStore, "/api/v1/events/since"))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// createAccountRequest はアカウント作成リクエストのJSON構造。
type createAccountRequest struct {
	// LoginID はログインに使う識別子。
	LoginID string `json:"login_id" binding:"required"`
	// GroupID はアカウントが属する店舗のID。
	GroupID string `json:"group_id" binding:"required"`
	// Role はアカウントの役割（admin | staff | other）。
	Role string `json:"role" binding:"required"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name"`
}

// handleCreateAccount は店舗アカウントを作成するハンドラを返す。
func (s *Server) handleCreateAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if _, err := s.queries.GetAccountByLoginID(c.Request.Context(), req.LoginID); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "このログインIDは既に使われています"})
			return
		}

		accountID := uuid.New().String()
		if err := s.queries.CreateAccount(c.Request.Context(), CreateAccountParams{
			ID:          accountID,
			LoginID:     req.LoginID,
			GroupID:     req.GroupID,
			Role:        req.Role,
			DisplayName: req.DisplayName,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの作成に失敗しました"})
			log.Printf("[Gateway] アカウント作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": accountID})
	}
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// LoginID はログインに使う識別子。
	LoginID string `json:"login_id" binding:"required"`
}

// handleLogin はログインIDからJWTを発行するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		account, err := s.queries.GetAccountByLoginID(c.Request.Context(), req.LoginID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "アカウントが見つかりません"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの取得に失敗しました"})
			log.Printf("[Gateway] アカウント取得エラー: %v", err)
			return
		}

		if err := s.queries.UpdateLastLogin(c.Request.Context(), account.ID); err != nil {
			log.Printf("[Gateway] 最終ログイン日時の更新に失敗: %v", err)
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, account.ID, account.GroupID, account.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("[Gateway] JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"user_id":  account.ID,
			"group_id": account.GroupID,
			"role":     account.Role,
		})
	}
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := s.queries.GetAccountByLoginID(c.Request.Context(), "dev-admin")
		if errors.Is(err, sql.ErrNoRows) {
			account = Account{
				ID:          uuid.New().String(),
				LoginID:     "dev-admin",
				GroupID:     "dev-shop",
				Role:        "admin",
				DisplayName: "開発用管理者",
			}
			if err := s.queries.CreateAccount(c.Request.Context(), CreateAccountParams{
				ID:          account.ID,
				LoginID:     account.LoginID,
				GroupID:     account.GroupID,
				Role:        account.Role,
				DisplayName: account.DisplayName,
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウント作成に失敗しました"})
				log.Printf("[Gateway] 開発用アカウント作成エラー: %v", err)
				return
			}
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウント取得に失敗しました"})
			return
		} else {
			_ = s.queries.UpdateLastLogin(c.Request.Context(), account.ID)
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, account.ID, account.GroupID, account.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("[Gateway] JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"user_id":  account.ID,
			"group_id": account.GroupID,
			"role":     account.Role,
		})
	}
}

// handleGetCurrentAccount は認証済みアカウントの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		account, err := s.queries.GetAccountByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "アカウントが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           account.ID,
			"login_id":     account.LoginID,
			"group_id":     account.GroupID,
			"role":         account.Role,
			"display_name": account.DisplayName,
		})
	}
}

// handleProxy は指定されたサービスにリクエストをプロキシするハンドラを返す。
func (s *Server) handleProxy(baseURL, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// handleProxyWithParam はURLパラメータを含むプロキシハンドラを返す。
func (s *Server) handleProxyWithParam(baseURL, pathPrefix, paramName string, pathSuffix ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + pathPrefix + c.Param(paramName)
		for _, suffix := range pathSuffix {
			proxyURL += suffix
		}
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// JWTトークンとユーザーIDヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, method, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	// 元のリクエストヘッダーを転送
	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-User-ID", middleware.GetUserID(c))

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		log.Printf("[Gateway] プロキシエラー: url=%s, error=%v", url, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
