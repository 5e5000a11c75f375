package camera

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Message はセッションから利用者へ非同期に届く通知
type Message interface {
	SessionID() string
}

// MessagePreviewSizeReady は設定が完了し、実際のプレビューサイズが決まったことを表す
type MessagePreviewSizeReady struct {
	Session string
	Size    Size // 表示の向きでのサイズ。決まらなかった場合はゼロ
}

// MessageCameraError はワーカー上の操作が失敗したことを表す。セッションの状態は変わらない
type MessageCameraError struct {
	Session string
	Err     error
}

// MessageCameraClosed はハードウェアが解放されたことを表す
type MessageCameraClosed struct {
	Session string
}

// SessionID はセッションIDを返す
func (m MessagePreviewSizeReady) SessionID() string { return m.Session }

// SessionID はセッションIDを返す
func (m MessageCameraError) SessionID() string { return m.Session }

// SessionID はセッションIDを返す
func (m MessageCameraClosed) SessionID() string { return m.Session }

// Session は利用者が操作するカメラのファサード
//
// 呼び出しは全て利用者側の単一の実行コンテキストから行う。ハードウェアに触れる処理は
// WorkerQueueに投入され、結果はSetReadyHandlerで登録したチャネルに届く。
// openとIsCameraClosedは意図を表すフラグで、確定した状態はMessageCameraClosedだけが示す。
type Session struct {
	id    string
	queue *WorkerQueue
	ctrl  *Controller
	log   *zap.Logger

	// 利用者側からだけ触る
	open     bool
	settings Settings
	display  *DisplayConfiguration
	surface  Surface

	// Openのたびに増える世代。利用者側だけが書く
	epoch       *atomic.Uint64
	// 最後に完了したクローズ処理の世代。ワーカーが書く
	closedEpoch *atomic.Uint64

	mu    sync.RWMutex
	ready chan<- Message
}

// NewSession は新しいSessionを作成する
//
// queueは配備時に決めたドメインのWorkerQueueで、Domains.QueueForから得る。
func NewSession(queue *WorkerQueue, driver Driver, logger *zap.Logger, opts ...ControllerOption) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	log := logger.With(zap.String("session", id))

	return &Session{
		id:          id,
		queue:       queue,
		ctrl:        NewController(driver, queue.Enqueue, log, opts...),
		log:         log,
		settings:    DefaultSettings(),
		epoch:       atomic.NewUint64(0),
		closedEpoch: atomic.NewUint64(0),
	}
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// Queue はこのセッションが使うWorkerQueueを返す
func (s *Session) Queue() *WorkerQueue {
	return s.queue
}

// SetReadyHandler は通知の送り先を設定する
//
// 送信はワーカースレッドからブロッキングで行うため、利用者は常に受信し続けること。
func (s *Session) SetReadyHandler(ch chan<- Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ch
}

// SetSurface はプレビューの描画先を設定する。プレビュー開始前に呼ぶ
func (s *Session) SetSurface(surface Surface) {
	s.surface = surface
}

// SetDisplayConfiguration は表示先の設定を行う。Configure前に呼ぶ
func (s *Session) SetDisplayConfiguration(display *DisplayConfiguration) {
	s.display = display
}

// DisplayConfiguration は表示先の設定を返す
func (s *Session) DisplayConfiguration() *DisplayConfiguration {
	return s.display
}

// SetCameraSettings はカメラの設定を行う。開いている間は無視する
func (s *Session) SetCameraSettings(settings Settings) {
	if s.open {
		s.log.Debug("開いている間の設定変更は無視します")
		return
	}
	s.settings = settings
}

// CameraSettings は現在の設定を返す
func (s *Session) CameraSettings() Settings {
	return s.settings
}

// Open はカメラを開く
//
// フラグは即座にopenへ変わり、実際の取得はワーカーで行う。失敗はMessageCameraErrorで通知され、
// openはtrueのまま残るので、利用者はCloseを呼ぶこと。
// 前回のクローズ処理が実行待ちでも、取得はその後ろに並ぶ。既に開いていればErrInvalidStateを返す。
func (s *Session) Open() error {
	if s.open {
		return errors.Wrap(ErrInvalidState, "既に開いています")
	}

	s.open = true
	s.epoch.Inc()

	settings := s.settings
	s.queue.IncrementAndEnqueue(func() {
		s.log.Debug("カメラを開いています")
		s.ctrl.SetCameraSettings(settings)
		if err := s.ctrl.Open(context.Background()); err != nil {
			s.log.Error("カメラを開けませんでした", zap.Error(err))
			s.notifyError(err)
		}
	})
	return nil
}

// ConfigureCamera はカメラを設定する。完了するとMessagePreviewSizeReadyが届く
func (s *Session) ConfigureCamera() error {
	if err := s.validateOpen(); err != nil {
		return err
	}

	display := s.display
	s.queue.Enqueue(func() {
		s.log.Debug("カメラを設定しています")
		s.ctrl.SetDisplayConfiguration(display)
		if err := s.ctrl.Configure(); err != nil {
			s.log.Error("カメラを設定できませんでした", zap.Error(err))
			s.notifyError(err)
			return
		}
		size, _ := s.ctrl.PreviewSize()
		s.notify(MessagePreviewSizeReady{Session: s.id, Size: size})
	})
	return nil
}

// StartPreview は描画先を結び付けてプレビューを開始する
func (s *Session) StartPreview() error {
	if err := s.validateOpen(); err != nil {
		return err
	}

	surface := s.surface
	s.queue.Enqueue(func() {
		s.log.Debug("プレビューを開始しています")
		if err := s.ctrl.AttachSurface(surface); err != nil {
			s.log.Error("プレビューを開始できませんでした", zap.Error(err))
			s.notifyError(err)
			return
		}
		if err := s.ctrl.StartPreview(); err != nil {
			s.log.Error("プレビューを開始できませんでした", zap.Error(err))
			s.notifyError(err)
		}
	})
	return nil
}

// SetTorch はトーチを切り替える。開いていなければ何もしない
func (s *Session) SetTorch(on bool) {
	if !s.open {
		return
	}
	s.queue.Enqueue(func() {
		s.ctrl.SetTorch(on)
	})
}

// RequestPreview は次の1フレームをcallbackに渡すよう要求する
func (s *Session) RequestPreview(callback PreviewCallback) error {
	if err := s.validateOpen(); err != nil {
		return err
	}
	s.queue.Enqueue(func() {
		s.ctrl.RequestPreviewFrame(callback)
	})
	return nil
}

// RequestPicture は静止画を1枚撮影してcallbackに渡すよう要求する
func (s *Session) RequestPicture(callback PictureCallback) error {
	if err := s.validateOpen(); err != nil {
		return err
	}
	s.queue.Enqueue(func() {
		s.ctrl.RequestPicture(callback)
	})
	return nil
}

// StartRecord はpathへの録画を開始する。失敗はMessageCameraErrorで通知され、セッションは開いたまま
func (s *Session) StartRecord(path string, maxDuration time.Duration) error {
	if err := s.validateOpen(); err != nil {
		return err
	}
	s.queue.Enqueue(func() {
		if err := s.ctrl.StartRecord(path, maxDuration); err != nil {
			s.log.Error("録画を開始できませんでした", zap.String("path", path), zap.Error(err))
			s.notifyError(err)
		}
	})
	return nil
}

// StopRecord は録画を停止する
func (s *Session) StopRecord() error {
	if err := s.validateOpen(); err != nil {
		return err
	}
	s.queue.Enqueue(func() {
		if err := s.ctrl.StopRecord(); err != nil {
			s.notifyError(err)
		}
	})
	return nil
}

// Close はカメラを閉じる
//
// 開いていればクローズ処理を投入し、openを即座にfalseにする。IsCameraClosedは処理の完了時にtrueになる。
// 開いていなければ何も投入しない。一度も開いていなければIsCameraClosedは既にtrueで、
// 前回のクローズ処理が実行待ちならその完了を待つ。
func (s *Session) Close() {
	if s.open {
		epoch := s.epoch.Load()
		s.queue.Enqueue(func() { s.closer(epoch) })
	}
	s.open = false
}

// closer はepochの世代を閉じる。後のOpenが既に投入されていればIsCameraClosedはfalseのまま
func (s *Session) closer(epoch uint64) {
	defer func() {
		s.closedEpoch.Store(epoch)
		s.queue.DecrementInstances()
		s.notify(MessageCameraClosed{Session: s.id})
	}()

	s.log.Debug("カメラを閉じています")
	if err := s.ctrl.StopRecord(); err != nil {
		s.log.Error("録画の停止に失敗しました", zap.Error(err))
	}
	s.ctrl.StopPreview()
	s.ctrl.Close()
}

// IsOpen は開く意図があるかを返す
func (s *Session) IsOpen() bool {
	return s.open
}

// IsCameraClosed はハードウェアの解放が完了しているかを返す
func (s *Session) IsCameraClosed() bool {
	return s.closedEpoch.Load() == s.epoch.Load()
}

// CameraRotation は表示に対するカメラの回転角度を返す。設定前は-1
func (s *Session) CameraRotation() int {
	return s.ctrl.CameraRotation()
}

func (s *Session) validateOpen() error {
	if !s.open {
		return errors.Wrap(ErrInvalidState, "セッションが開かれていません")
	}
	return nil
}

func (s *Session) notifyError(err error) {
	s.notify(MessageCameraError{Session: s.id, Err: err})
}

func (s *Session) notify(msg Message) {
	s.mu.RLock()
	ch := s.ready
	s.mu.RUnlock()

	if ch == nil {
		return
	}
	ch <- msg
}
