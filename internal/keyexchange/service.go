// Package keyexchange はプッシュ購読に必要なVAPID公開鍵の取得とキャッシュを提供する。
//
// 鍵はアプリケーションのライフタイム中は不変なので、初回取得後は
// プロセス内のメモリキャッシュを返す。キャッシュの無効化ポリシーは持たない。
// 鍵のローテーション時は全クライアントの購読が作り直される（購読マネージャーが
// 既存購読を常に破棄して再作成するのはこのため）。
package keyexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrNetwork は鍵サーバーへの到達に失敗したことを表す。
// 一時的な障害であり、呼び出し側は1回のリトライが許容される。
var ErrNetwork = errors.New("鍵サーバーに到達できません")

// ErrServer は鍵サーバーが不正な応答を返したことを表す。
// 非2xxレスポンス、または期待するフィールドを欠くレスポンスが該当する。
var ErrServer = errors.New("鍵サーバーが不正な応答を返しました")

// publicKeyPath は公開鍵を配布するwell-knownエンドポイントのパス。
const publicKeyPath = "/api/v1/push/public-key"

// Service はVAPID公開鍵の取得とプロセス生存期間のキャッシュを行う。
// プロセスごとに1つ生成し、参照で引き回す。
type Service struct {
	// httpClient は鍵サーバーへのHTTPクライアント。
	httpClient *http.Client
	// baseURL は鍵サーバーのベースURL。
	baseURL string

	// mu はキャッシュへのアクセスを保護する。
	mu sync.Mutex
	// cachedKey は取得済みの公開鍵。空文字列は未取得を表す。
	cachedKey string
}

// NewService は新しい鍵交換サービスを生成する。
func NewService(baseURL string) *Service {
	return &Service{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

// publicKeyResponse は鍵サーバーのレスポンス構造。
type publicKeyResponse struct {
	// PublicKey はBase64URL形式のVAPID公開鍵。
	PublicKey string `json:"public_key"`
}

// PublicKey はVAPID公開鍵を返す。
// 初回呼び出しで鍵サーバーから取得し、以降はキャッシュを返す。
// サービス自身はリトライしない。
func (s *Service) PublicKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedKey != "" {
		return s.cachedKey, nil
	}

	key, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.cachedKey = key
	return key, nil
}

// fetch は鍵サーバーから公開鍵を取得する。
func (s *Service) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+publicKeyPath, nil)
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status=%d", ErrServer, resp.StatusCode)
	}

	var body publicKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: レスポンスのデシリアライズに失敗: %v", ErrServer, err)
	}
	if body.PublicKey == "" {
		return "", fmt.Errorf("%w: public_keyフィールドがありません", ErrServer)
	}

	return body.PublicKey, nil
}
