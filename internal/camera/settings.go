package camera

import (
	"strings"

	"github.com/pkg/errors"
)

// NoRequestedCamera はプラットフォーム既定のカメラを使うことを表すカメラID
const NoRequestedCamera = -1

// FocusMode はオートフォーカスの方式
type FocusMode string

const (
	FocusAuto       FocusMode = "auto"
	FocusContinuous FocusMode = "continuous"
	FocusInfinity   FocusMode = "infinity"
	FocusMacro      FocusMode = "macro"
)

// ParseFocusMode は文字列からFocusModeを得る
func ParseFocusMode(s string) (FocusMode, error) {
	switch mode := FocusMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case FocusAuto, FocusContinuous, FocusInfinity, FocusMacro:
		return mode, nil
	case "":
		return FocusAuto, nil
	default:
		return "", errors.Errorf("不明なフォーカスモード: %q", s)
	}
}

// Settings はカメラを開く前に適用する設定
//
// Open後の変更は無視される。
type Settings struct {
	CameraID         int       // 使用するカメラ。NoRequestedCameraなら既定
	FocusMode        FocusMode // オートフォーカス方式
	ScanInverted     bool      // デコード前に色を反転する
	BarcodeSceneMode bool      // バーコード用シーンモードをドライバーに要求する
	MeteringEnabled  bool      // フォーカスエリア・測光・手ぶれ補正を有効にする
	ExposureEnabled  bool      // トーチ状態に応じて露出補正する

	AutoFocusEnabled bool // プレビュー中に定期的にオートフォーカスを掛ける
	AutoTorchEnabled bool // 周囲の明るさに応じてトーチを切り替える
}

// DefaultSettings は既定の設定を返す
func DefaultSettings() Settings {
	return Settings{
		CameraID:         NoRequestedCamera,
		FocusMode:        FocusAuto,
		AutoFocusEnabled: true,
	}
}
