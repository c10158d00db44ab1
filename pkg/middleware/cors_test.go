package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// setupCORSRouter はCORSミドルウェアを適用したテスト用ルーターを構築する。
func setupCORSRouter(allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(CORS(allowedOrigins))
	router.POST("/api/v1/push/subscribers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	t.Run("許可されたオリジンにCORSヘッダーを返すこと", func(t *testing.T) {
		t.Parallel()

		router := setupCORSRouter([]string{"https://booking.example.com"})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/push/subscribers", nil)
		req.Header.Set("Origin", "https://booking.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://booking.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://booking.example.com")
		}
	})

	t.Run("許可されていないオリジンにはCORSヘッダーを返さないこと", func(t *testing.T) {
		t.Parallel()

		router := setupCORSRouter([]string{"https://booking.example.com"})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/push/subscribers", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want 空文字列", got)
		}
	})

	t.Run("OPTIONSリクエストは204で打ち切ること", func(t *testing.T) {
		t.Parallel()

		router := setupCORSRouter([]string{"https://booking.example.com"})

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/push/subscribers", nil)
		req.Header.Set("Origin", "https://booking.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}
