// 通知配送サービスのエントリポイント。
// VAPID公開鍵の配布、購読者レジストリの管理、通知のファンアウトを担当する。
// Event Storeから予約イベントをポーリングし、保留予約を店舗の管理者へ通知する。
// チャネルが書き込まれた購読者には検証プローブを送り、死んだチャネルを無効化する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/salonpush/internal/dispatch"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8086"
	}

	server, err := dispatch.NewServer(port)
	if err != nil {
		log.Fatalf("配送サーバーの初期化に失敗: %v", err)
	}

	poller := dispatch.NewPoller(server.Dispatcher(), server.EventStoreClient())
	go poller.Start()

	log.Printf("配送サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("配送サービスの起動に失敗: %v", err)
	}
}
