package gateway

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用のGatewayサーバーをインメモリSQLiteで構築する。
// 内部サービスのモックURLを指定できる。
func setupTestServer(t *testing.T, dispatchURL, eventStoreURL string) (*Server, *gin.Engine) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	router := gin.New()
	s := &Server{
		router:    router,
		port:      "0",
		queries:   NewQueries(sqlDB),
		db:        sqlDB,
		jwtSecret: "test-secret",
		serviceURLs: serviceURLConfig{
			Dispatch:   dispatchURL,
			EventStore: eventStoreURL,
		},
	}
	s.setupRoutes()

	return s, router
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// createTestAccount はテスト用アカウントを作成してIDを返すヘルパー関数。
func createTestAccount(t *testing.T, router *gin.Engine, loginID, groupID, role string) string {
	t.Helper()

	body := map[string]string{
		"login_id":     loginID,
		"group_id":     groupID,
		"role":         role,
		"display_name": "テストアカウント",
	}
	w := doRequest(router, http.MethodPost, "/auth/accounts", "", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("テスト用アカウントの作成に失敗: status=%d, body=%s", w.Code, w.Body.String())
	}

	result := parseJSON(t, w)
	id, ok := result["id"].(string)
	if !ok || id == "" {
		t.Fatal("アカウントIDが空です")
	}
	return id
}

// loginTestAccount はテスト用アカウントでログインしてJWTを返すヘルパー関数。
func loginTestAccount(t *testing.T, router *gin.Engine, loginID string) string {
	t.Helper()

	w := doRequest(router, http.MethodPost, "/auth/login", "", map[string]string{"login_id": loginID})
	if w.Code != http.StatusOK {
		t.Fatalf("ログインに失敗: status=%d, body=%s", w.Code, w.Body.String())
	}

	result := parseJSON(t, w)
	token, ok := result["token"].(string)
	if !ok || token == "" {
		t.Fatal("トークンが空です")
	}
	return token
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

	w := doRequest(router, http.MethodGet, "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	result := parseJSON(t, w)
	if result["service"] != "gateway" {
		t.Errorf("service: got %v, want gateway", result["service"])
	}
}

// TestHandleCreateAccount はアカウント作成ハンドラのテスト。
func TestHandleCreateAccount(t *testing.T) {
	t.Parallel()

	t.Run("正常にアカウントを作成できる", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		id := createTestAccount(t, router, "admin-1", "shop-a", "admin")
		if id == "" {
			t.Error("アカウントIDが空です")
		}
	})

	t.Run("同じログインIDでの作成はConflict", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		createTestAccount(t, router, "admin-1", "shop-a", "admin")

		body := map[string]string{"login_id": "admin-1", "group_id": "shop-b", "role": "staff"}
		w := doRequest(router, http.MethodPost, "/auth/accounts", "", body)

		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("必須フィールドがない場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		w := doRequest(router, http.MethodPost, "/auth/accounts", "", map[string]string{"login_id": "admin-1"})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleLogin はログインハンドラのテスト。
func TestHandleLogin(t *testing.T) {
	t.Parallel()

	t.Run("ログインで店舗と役割を含むトークンが発行される", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		createTestAccount(t, router, "admin-1", "shop-a", "admin")

		w := doRequest(router, http.MethodPost, "/auth/login", "", map[string]string{"login_id": "admin-1"})

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["token"] == nil || result["token"] == "" {
			t.Error("トークンが空です")
		}
		if result["group_id"] != "shop-a" {
			t.Errorf("group_id: got %v, want shop-a", result["group_id"])
		}
		if result["role"] != "admin" {
			t.Errorf("role: got %v, want admin", result["role"])
		}
	})

	t.Run("存在しないアカウントはNotFound", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		w := doRequest(router, http.MethodPost, "/auth/login", "", map[string]string{"login_id": "nobody"})

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("発行されたトークンで認証済みAPIにアクセスできる", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		id := createTestAccount(t, router, "admin-1", "shop-a", "admin")
		token := loginTestAccount(t, router, "admin-1")

		w := doRequest(router, http.MethodGet, "/api/v1/me", token, nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["id"] != id {
			t.Errorf("id: got %v, want %s", result["id"], id)
		}
		if result["group_id"] != "shop-a" {
			t.Errorf("group_id: got %v, want shop-a", result["group_id"])
		}
	})
}

// TestHandleDevToken は開発用トークン発行ハンドラのテスト。
func TestHandleDevToken(t *testing.T) {
	t.Parallel()

	t.Run("開発用アカウントが作成されトークンが発行される", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		w := doRequest(router, http.MethodPost, "/auth/dev-token", "", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["token"] == nil || result["token"] == "" {
			t.Error("トークンが空です")
		}
		if result["role"] != "admin" {
			t.Errorf("role: got %v, want admin", result["role"])
		}
	})

	t.Run("2回目の発行は既存アカウントを再利用する", func(t *testing.T) {
		t.Parallel()
		_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

		w1 := doRequest(router, http.MethodPost, "/auth/dev-token", "", nil)
		w2 := doRequest(router, http.MethodPost, "/auth/dev-token", "", nil)

		id1 := parseJSON(t, w1)["user_id"]
		id2 := parseJSON(t, w2)["user_id"]
		if id1 != id2 {
			t.Errorf("user_id: got %v and %v, want同一", id1, id2)
		}
	})
}

// TestAuthRequired は認証必須エンドポイントの保護を検証する。
func TestAuthRequired(t *testing.T) {
	t.Parallel()

	_, router := setupTestServer(t, "http://localhost:0", "http://localhost:0")

	paths := []string{"/api/v1/me", "/api/v1/push/subscribers"}
	for _, path := range paths {
		w := doRequest(router, http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s のステータスコード: got %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}
}

// TestProxy は内部サービスへのプロキシを検証する。
func TestProxy(t *testing.T) {
	t.Parallel()

	t.Run("認証済みリクエストがユーザーIDヘッダー付きで転送される", func(t *testing.T) {
		t.Parallel()

		var gotUserID string
		var gotQuery string
		dispatch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUserID = r.Header.Get("X-User-ID")
			gotQuery = r.URL.RawQuery
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`)) //nolint:errcheck
		}))
		t.Cleanup(dispatch.Close)

		_, router := setupTestServer(t, dispatch.URL, "http://localhost:0")

		id := createTestAccount(t, router, "admin-1", "shop-a", "admin")
		token := loginTestAccount(t, router, "admin-1")

		w := doRequest(router, http.MethodGet, "/api/v1/push/subscribers?role=staff", token, nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if gotUserID != id {
			t.Errorf("X-User-ID: got %s, want %s", gotUserID, id)
		}
		if gotQuery != "role=staff" {
			t.Errorf("クエリ: got %s, want role=staff", gotQuery)
		}
	})

	t.Run("公開鍵の取得は認証なしで転送される", func(t *testing.T) {
		t.Parallel()

		dispatch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"public_key":"test-key"}`)) //nolint:errcheck
		}))
		t.Cleanup(dispatch.Close)

		_, router := setupTestServer(t, dispatch.URL, "http://localhost:0")

		w := doRequest(router, http.MethodGet, "/api/v1/push/public-key", "", nil)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		result := parseJSON(t, w)
		if result["public_key"] != "test-key" {
			t.Errorf("public_key: got %v, want test-key", result["public_key"])
		}
	})

	t.Run("内部サービスが落ちている場合はBadGateway", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, "http://127.0.0.1:1", "http://localhost:0")

		createTestAccount(t, router, "admin-1", "shop-a", "admin")
		token := loginTestAccount(t, router, "admin-1")

		w := doRequest(router, http.MethodGet, "/api/v1/push/subscribers", token, nil)

		if w.Code != http.StatusBadGateway {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadGateway)
		}
	})
}
