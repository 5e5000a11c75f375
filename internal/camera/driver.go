package camera

import (
	"context"

	"github.com/pkg/errors"
)

// FrameHandler はハードウェアから届いた1フレームを受け取る
type FrameHandler func(data []byte)

// FocusHandler はオートフォーカス完了を受け取る
type FocusHandler func(success bool)

// Driver はカメラハードウェアへの入口
type Driver interface {
	// NumCameras は利用可能なカメラの数を返す
	NumCameras(ctx context.Context) (int, error)

	// Info は指定カメラのメタデータを返す
	Info(ctx context.Context, id int) (CameraInfo, error)

	// Open はカメラを開く
	//
	// postはハードウェアからのコールバックを開いたスレッドへ戻すための関数で、
	// Deviceはフレーム・フォーカス通知を必ずpost経由で呼び出す。
	Open(ctx context.Context, id int, post func(func())) (Device, error)
}

// Device は開かれたカメラのハンドル
//
// スレッド安全ではなく、Openしたワーカーからのみ呼び出す。
type Device interface {
	Parameters() (*Parameters, error)
	SetParameters(p *Parameters) error
	SetDisplayOrientation(degrees int) error

	StartPreview() error
	StopPreview() error

	// SetOneShotPreviewCallback は次の1フレームだけをhに渡すよう登録する。nilで解除
	SetOneShotPreviewCallback(h FrameHandler)

	// TakePicture は静止画を1枚撮影してhに渡す
	TakePicture(h FrameHandler) error

	AutoFocus(h FocusHandler) error
	CancelAutoFocus() error

	// Unlock は録画プロセスなど外部にハンドルを貸し出す
	Unlock() error
	// Lock は貸し出したハンドルを取り戻す
	Lock() error

	// Source は外部プロセスが開けるデバイスの場所（例: /dev/video0）。なければ空
	Source() string

	Release() error
}

// openCamera は要求されたカメラを開く
//
// requestedがNoRequestedCameraなら最初の背面カメラ、なければ0番を使う。
// 明示的に要求された番号が存在しなければErrCameraUnavailableを返す。
func openCamera(ctx context.Context, driver Driver, requested int, post func(func())) (Device, CameraInfo, error) {
	num, err := driver.NumCameras(ctx)
	if err != nil {
		return nil, CameraInfo{}, errors.Wrap(ErrCameraUnavailable, err.Error())
	}
	if num == 0 {
		return nil, CameraInfo{}, errors.Wrap(ErrCameraUnavailable, "カメラが見つかりません")
	}

	id := requested
	if requested < 0 {
		id = 0
		for i := 0; i < num; i++ {
			info, err := driver.Info(ctx, i)
			if err == nil && info.Facing == FacingBack {
				id = i
				break
			}
		}
	} else if requested >= num {
		return nil, CameraInfo{}, errors.Wrapf(ErrCameraUnavailable, "要求されたカメラ %d は存在しません", requested)
	}

	info, err := driver.Info(ctx, id)
	if err != nil {
		return nil, CameraInfo{}, errors.Wrapf(ErrCameraUnavailable, "カメラ %d の情報を取得できません: %v", id, err)
	}
	info.ID = id

	dev, err := driver.Open(ctx, id, post)
	if err != nil {
		return nil, CameraInfo{}, errors.Wrapf(ErrCameraUnavailable, "カメラ %d を開けません: %v", id, err)
	}
	if dev == nil {
		return nil, CameraInfo{}, errors.Wrapf(ErrCameraUnavailable, "カメラ %d を開けません", id)
	}

	return dev, info, nil
}
