package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	// Name はテスト用の名前フィールド。
	Name string `json:"name"`
	// Value はテスト用の値フィールド。
	Value int `json:"value"`
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.baseURL != "http://localhost:8080" {
			t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8080")
		}
		if client.httpClient == nil {
			t.Fatal("httpClientがnil")
		}
	})

	t.Run("デフォルトタイムアウトが30秒であること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", client.httpClient.Timeout)
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", WithTimeout(5*time.Second))
		if client.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", client.httpClient.Timeout)
		}
	})
}

// TestPostJSON はPostJSON関数を検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にPOSTリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var gotMethod, gotPath, gotContentType string
		var gotBody []byte
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			gotContentType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Name: "response", Value: 200})
		}))
		defer ts.Close()

		client := New(ts.URL)
		body := testPayload{Name: "request", Value: 100}
		var result testPayload

		err := client.PostJSON(context.Background(), "/api/v1/push/subscribers", body, &result)
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		if gotMethod != http.MethodPost {
			t.Errorf("Method = %q, want %q", gotMethod, http.MethodPost)
		}
		if gotPath != "/api/v1/push/subscribers" {
			t.Errorf("Path = %q, want %q", gotPath, "/api/v1/push/subscribers")
		}
		if gotContentType != "application/json" {
			t.Errorf("Content-Type = %q, want %q", gotContentType, "application/json")
		}

		var sentBody testPayload
		if err := json.Unmarshal(gotBody, &sentBody); err != nil {
			t.Fatalf("リクエストボディのパースに失敗: %v", err)
		}
		if sentBody.Name != "request" {
			t.Errorf("sent Name = %q, want %q", sentBody.Name, "request")
		}

		if result.Name != "response" {
			t.Errorf("result.Name = %q, want %q", result.Name, "response")
		}
		if result.Value != 200 {
			t.Errorf("result.Value = %d, want %d", result.Value, 200)
		}
	})

	t.Run("サーバーが400エラーを返した場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad request"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.PostJSON(context.Background(), "/api/v1/push/send", testPayload{}, &result)
		if err == nil {
			t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("接続できないサーバーの場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		client := New("http://127.0.0.1:1", WithTimeout(time.Second))
		err := client.PostJSON(context.Background(), "/unreachable", testPayload{}, nil)
		if err == nil {
			t.Fatal("到達不能なサーバーに対してエラーが返されなかった")
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にGETリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("Method = %q, want %q", r.Method, http.MethodGet)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]testPayload{{Name: "a", Value: 1}, {Name: "b", Value: 2}})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result []testPayload

		err := client.GetJSON(context.Background(), "/api/v1/events/since", &result)
		if err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if len(result) != 2 {
			t.Fatalf("要素数 = %d, want 2", len(result))
		}
		if result[0].Name != "a" || result[1].Name != "b" {
			t.Errorf("result = %+v, 期待した順序でない", result)
		}
	})

	t.Run("resultにnilを渡した場合はボディを読み捨てること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"ignored":true}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		if err := client.GetJSON(context.Background(), "/", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
	})
}

// TestWithBearerToken はAuthorizationヘッダーの付与を検証する。
func TestWithBearerToken(t *testing.T) {
	t.Parallel()

	t.Run("Authorizationヘッダーにベアラートークンが付与されること", func(t *testing.T) {
		t.Parallel()

		var gotAuth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		client := New(ts.URL, WithBearerToken("test-token"))
		if err := client.PostJSON(context.Background(), "/", testPayload{}, nil); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
		if gotAuth != "Bearer test-token" {
			t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
		}
	})

	t.Run("SetBearerTokenで後からトークンを差し替えられること", func(t *testing.T) {
		t.Parallel()

		var gotAuth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		client.SetBearerToken("rotated-token")
		if err := client.GetJSON(context.Background(), "/", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if gotAuth != "Bearer rotated-token" {
			t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer rotated-token")
		}
	})

	t.Run("トークン未設定の場合はヘッダーが付かないこと", func(t *testing.T) {
		t.Parallel()

		var gotAuth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		if err := client.GetJSON(context.Background(), "/", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if gotAuth != "" {
			t.Errorf("Authorization = %q, want 空文字列", gotAuth)
		}
	})
}

// TestWithUserID はコンテキスト経由のユーザーID伝播を検証する。
func TestWithUserID(t *testing.T) {
	t.Parallel()

	t.Run("X-User-IDヘッダーが付与されること", func(t *testing.T) {
		t.Parallel()

		var gotUserID string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUserID = r.Header.Get("X-User-ID")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		ctx := WithUserID(context.Background(), "user-42")

		if err := client.PostJSON(ctx, "/", testPayload{}, nil); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
		if gotUserID != "user-42" {
			t.Errorf("X-User-ID = %q, want %q", gotUserID, "user-42")
		}
	})

	t.Run("ユーザーID未設定の場合はヘッダーが付かないこと", func(t *testing.T) {
		t.Parallel()

		var gotUserID string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUserID = r.Header.Get("X-User-ID")
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		if err := client.PostJSON(context.Background(), "/", testPayload{}, nil); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
		if gotUserID != "" {
			t.Errorf("X-User-ID = %q, want 空文字列", gotUserID)
		}
	})
}
