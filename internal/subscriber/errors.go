package subscriber

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied はユーザーが通知を拒否したことを表す。
// 終端状態であり、リトライしても成功しない。ユーザーへの案内には
// PermissionRemediationを使用する。
var ErrPermissionDenied = errors.New("通知の許可が拒否されました")

// ErrUnsupportedRuntime は実行環境がプッシュ通知に対応していないことを表す。
// 終端状態であり、リトライしても成功しない。
var ErrUnsupportedRuntime = errors.New("この実行環境はプッシュ通知に対応していません")

// PermissionRemediation は許可拒否時にユーザーへ表示する案内文。
// 再プロンプトができないため、手動でのブラウザ設定変更を案内する。
const PermissionRemediation = "通知がブロックされています。ブラウザのサイト設定から通知を許可した後、ページを再読み込みしてください。"

// Stage は購読シーケンスのどの段階で失敗したかを表す。
type Stage string

const (
	// StagePermission は許可プロンプトの段階。
	StagePermission Stage = "permission"
	// StageWorkerRegistration はバックグラウンド実行コンテキストの登録段階。
	StageWorkerRegistration Stage = "worker-registration"
	// StageSubscribe はプッシュサービスへの購読開設段階。
	StageSubscribe Stage = "subscribe"
	// StageToken はゲートウェイトークンの取得段階。
	StageToken Stage = "token"
	// StagePersist はレジストリへの永続化段階。
	StagePersist Stage = "persist"
)

// StageError は一時的な失敗を段階情報付きで表す。
// 呼び出し側はシーケンス全体を最初からリトライしてよい。
type StageError struct {
	// Stage は失敗した段階。
	Stage Stage
	// Err は元のエラー。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StageError) Error() string {
	return fmt.Sprintf("購読シーケンスの%s段階で失敗: %v", e.Stage, e.Err)
}

// Unwrap はラップされた元のエラーを返す。
func (e *StageError) Unwrap() error {
	return e.Err
}

// stageErr は段階情報付きエラーを生成する。
// 終端エラー（許可拒否・非対応環境）はそのまま伝播させ、ラップしない。
func stageErr(stage Stage, err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnsupportedRuntime) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
