package dispatch

// DefaultLink は通知のデータペイロードにリンクが指定されなかった
// 場合に使う遷移先。通知は必ずアプリ内のどこかへ誘導する。
const DefaultLink = "/admin/bookings"

// Payload は配送する通知の内容。
// Dataは通知タップ時の遷移先を示す"link"キーを必ず含む。
type Payload struct {
	// Title は通知のタイトル
	Title string
	// Body は通知の本文
	Body string
	// Data は通知に添付するキーバリューデータ
	Data map[string]string
	// DataOnly がtrueの場合、可視の通知ブロックを省略しデータのみ送る
	DataOnly bool
	// LowPriority がtrueの場合、端末を起こさない低優先度で送る
	LowPriority bool
	// PlatformHint は受信者の実行環境（mobile | desktop）。受信者ごとに設定される。
	PlatformHint string
	// Standalone は受信者がインストール済みアプリとして動作しているか
	Standalone bool
}

// Link は通知タップ時の遷移先を返す。未指定ならDefaultLink。
func (p *Payload) Link() string {
	if link, ok := p.Data["link"]; ok && link != "" {
		return link
	}
	return DefaultLink
}

// forRecipient は受信者の環境ヒントを反映したペイロードのコピーを返す。
// Dataマップは共有され、送信実装は読み取りのみ行う。
func (p *Payload) forRecipient(platformHint string, standalone bool) *Payload {
	clone := *p
	clone.PlatformHint = platformHint
	clone.Standalone = standalone
	return &clone
}

// probePayload はチャネル検証用の低優先度・データのみのペイロードを返す。
// 可視の通知を出さずにチャネルの生死だけを確かめる。
func probePayload() *Payload {
	return &Payload{
		Data:        map[string]string{"link": DefaultLink, "probe": "1"},
		DataOnly:    true,
		LowPriority: true,
	}
}
