package camera

import "github.com/pkg/errors"

var (
	// ErrInvalidState はセッションの状態に合わない呼び出し（プログラミングエラー）
	ErrInvalidState = errors.New("セッションの状態が不正です")

	// ErrCameraUnavailable はカメラを取得できなかったことを表す
	ErrCameraUnavailable = errors.New("カメラを利用できません")

	// ErrCameraNotOpen はハンドルを開く前にハードウェア操作を行ったことを表す
	ErrCameraNotOpen = errors.New("カメラが開かれていません")

	// ErrRotationUnknown はConfigure前に回転を問い合わせたことを表す
	ErrRotationUnknown = errors.New("回転角度がまだ計算されていません。先にConfigureを呼び出してください")

	// ErrFrameDelivery は1フレームのデータが期待と一致しなかったことを表す
	ErrFrameDelivery = errors.New("フレームの受け渡しに失敗しました")

	// ErrNoResolution は解像度が未確定のままフレームが届いたことを表す
	ErrNoResolution = errors.New("解像度が利用できません")

	// ErrParametersRejected はドライバーがパラメーターを拒否したことを表す
	ErrParametersRejected = errors.New("カメラがパラメーターを拒否しました")

	// ErrRecorderUnavailable は録画の準備・開始に失敗したことを表す
	ErrRecorderUnavailable = errors.New("録画を開始できません")
)
