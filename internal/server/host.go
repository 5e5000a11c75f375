package server

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camkeeper/internal/camera"
	"camkeeper/internal/imaging"
)

// HostOptions はCameraHostの構成
type HostOptions struct {
	Settings     camera.Settings
	Display      *camera.DisplayConfiguration
	Recorder     camera.Recorder
	LightSensor  *camera.LuxFeed
	DeviceModel  string
	RecordDir    string
	MaxDuration  time.Duration
	FrameTimeout time.Duration
}

// HostStatus はカメラの状態
type HostStatus struct {
	SessionID      string   `json:"session_id"`
	Open           bool     `json:"open"`
	CameraClosed   bool     `json:"camera_closed"`
	Configured     bool     `json:"configured"`
	Previewing     bool     `json:"previewing"`
	Recording      bool     `json:"recording"`
	Rotation       int      `json:"rotation"`
	PreviewWidth   int      `json:"preview_width"`
	PreviewHeight  int      `json:"preview_height"`
	LastError      string   `json:"last_error,omitempty"`
	WorkerAlive    bool     `json:"worker_alive"`
	WorkerSessions int      `json:"worker_sessions"`
	Lux            *float64 `json:"lux,omitempty"`
}

// CameraHost はHTTPハンドラーから1つのカメラセッションを操作する利用者側
//
// セッションの操作は全てmuの下で行う。セッションからの通知は専用のゴルーチンが受け取り、
// 状態に反映する。
type CameraHost struct {
	opts    HostOptions
	domains *camera.Domains
	log     *zap.Logger

	mu      sync.Mutex
	session *camera.Session

	messages chan camera.Message
	quit     chan struct{}
	quitOnce sync.Once
	loopDone chan struct{}

	stateMu     sync.RWMutex
	configured  bool
	previewing  bool
	recording   bool
	previewSize camera.Size
	lastError   string
	// 投入済みのクローズ処理。先頭から順に完了する
	closing     []*pendingClose

	previews *frameWaiters
	pictures *frameWaiters
}

// pendingClose はワーカーに投入したクローズ処理1回分
type pendingClose struct {
	done     chan struct{}
	// 完了前に開き直された。完了時に新しいセッションの状態を消さない
	reopened bool
}

// NewCameraHost は新しいCameraHostを作成し、通知の受信を始める
func NewCameraHost(driver camera.Driver, domains *camera.Domains, opts HostOptions, logger *zap.Logger) *CameraHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Display == nil {
		opts.Display = camera.NewDisplayConfiguration(camera.Size{}, camera.Rotation0)
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 3 * time.Second
	}

	var copts []camera.ControllerOption
	if opts.Recorder != nil {
		copts = append(copts, camera.WithRecorder(opts.Recorder))
	}
	if opts.LightSensor != nil {
		copts = append(copts, camera.WithLightSensor(opts.LightSensor))
	}
	if opts.DeviceModel != "" {
		copts = append(copts, camera.WithDeviceModel(opts.DeviceModel))
	}

	queueID := opts.Settings.CameraID
	if queueID < 0 {
		queueID = 0
	}
	session := camera.NewSession(domains.QueueFor(queueID), driver, logger, copts...)

	h := &CameraHost{
		opts:     opts,
		domains:  domains,
		log:      logger.With(zap.String("session", session.ID())),
		session:  session,
		messages: make(chan camera.Message, 16),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		previews: newFrameWaiters(),
		pictures: newFrameWaiters(),
	}
	session.SetReadyHandler(h.messages)
	go h.receive()
	return h
}

// receive はセッションからの通知を状態に反映する
func (h *CameraHost) receive() {
	defer close(h.loopDone)
	for {
		select {
		case <-h.quit:
			return
		case msg := <-h.messages:
			h.handleMessage(msg)
		}
	}
}

func (h *CameraHost) handleMessage(msg camera.Message) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	switch m := msg.(type) {
	case camera.MessagePreviewSizeReady:
		h.configured = true
		h.previewSize = m.Size
		h.log.Info("プレビューサイズが決まりました", zap.Stringer("size", m.Size))
	case camera.MessageCameraError:
		h.lastError = m.Err.Error()
		if errors.Is(m.Err, camera.ErrRecorderUnavailable) {
			h.recording = false
		}
		h.log.Warn("カメラでエラーが発生しました", zap.Error(m.Err))
	case camera.MessageCameraClosed:
		var pending *pendingClose
		if len(h.closing) > 0 {
			pending = h.closing[0]
			h.closing = h.closing[1:]
		}
		// 設定完了の通知はこの後に届き直す
		h.configured = false
		h.previewSize = camera.Size{}
		if pending == nil || !pending.reopened {
			h.previewing = false
			h.recording = false
		}
		if pending != nil {
			close(pending.done)
		}
		h.log.Info("カメラを閉じました")
	}
}

// Session は操作対象のセッションを返す
func (h *CameraHost) Session() *camera.Session {
	return h.session
}

// Open はカメラを開く
func (h *CameraHost) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.session.IsOpen() {
		h.stateMu.Lock()
		h.lastError = ""
		h.previewing = false
		h.recording = false
		for _, c := range h.closing {
			c.reopened = true
		}
		h.stateMu.Unlock()
	}

	h.session.SetCameraSettings(h.opts.Settings)
	h.session.SetDisplayConfiguration(h.opts.Display)
	h.session.SetSurface(camera.NoopSurface{})
	return h.session.Open()
}

// Configure はカメラを設定する
func (h *CameraHost) Configure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.ConfigureCamera()
}

// StartPreview はプレビューを開始する
func (h *CameraHost) StartPreview() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.session.StartPreview(); err != nil {
		return err
	}
	h.stateMu.Lock()
	h.previewing = true
	h.stateMu.Unlock()
	return nil
}

// Start は開く・設定・プレビュー開始をまとめて投入する
func (h *CameraHost) Start() error {
	if err := h.Open(); err != nil {
		return err
	}
	if err := h.Configure(); err != nil {
		return err
	}
	return h.StartPreview()
}

// Close はカメラを閉じる。解放の完了はWaitClosedで待つ
func (h *CameraHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session.IsOpen() {
		h.stateMu.Lock()
		h.closing = append(h.closing, &pendingClose{done: make(chan struct{})})
		h.stateMu.Unlock()
	}
	h.session.Close()
}

// WaitClosed はハードウェアの解放が完了するまで待つ
func (h *CameraHost) WaitClosed(ctx context.Context) error {
	h.stateMu.RLock()
	if len(h.closing) == 0 {
		h.stateMu.RUnlock()
		return nil
	}
	ch := h.closing[len(h.closing)-1].done
	h.stateMu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "カメラの解放を待てませんでした")
	}
}

// SetTorch はトーチを切り替える
func (h *CameraHost) SetTorch(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.session.IsOpen() {
		return errors.Wrap(camera.ErrInvalidState, "セッションが開かれていません")
	}
	h.session.SetTorch(on)
	return nil
}

// PublishLux は周囲の明るさを通知する。センサーがなければエラー
func (h *CameraHost) PublishLux(lux float64) error {
	if h.opts.LightSensor == nil {
		return errors.New("照度センサーが設定されていません")
	}
	h.opts.LightSensor.Publish(lux)
	return nil
}

// Frame は次のプレビューフレームを1枚受け取る
//
// 同時に待っている呼び出しには全て同じフレームが届く。
func (h *CameraHost) Frame(ctx context.Context) (*camera.SourceData, error) {
	results := h.previews.add()
	h.mu.Lock()
	err := h.session.RequestPreview(camera.PreviewFuncs{
		Preview: h.previews.deliverData,
		Error:   h.previews.deliverError,
	})
	h.mu.Unlock()
	if err != nil {
		h.previews.remove(results)
		return nil, err
	}
	return h.await(ctx, h.previews, results)
}

// Picture は静止画を1枚撮影する。同時に待っている呼び出しには同じ静止画が届く
func (h *CameraHost) Picture(ctx context.Context) (*camera.SourceData, error) {
	results := h.pictures.add()
	h.mu.Lock()
	err := h.session.RequestPicture(camera.PictureFuncs{
		Picture: h.pictures.deliverData,
		Error:   h.pictures.deliverError,
	})
	h.mu.Unlock()
	if err != nil {
		h.pictures.remove(results)
		return nil, err
	}
	return h.await(ctx, h.pictures, results)
}

func (h *CameraHost) await(ctx context.Context, waiters *frameWaiters, results chan camera.FrameResult) (*camera.SourceData, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.FrameTimeout)
	defer cancel()

	select {
	case r := <-results:
		return r.Data, r.Err
	case <-ctx.Done():
		waiters.remove(results)
		return nil, errors.Wrap(ctx.Err(), "フレームが届きませんでした")
	}
}

// frameWaiters は1回の配信を待っている呼び出しの集合
//
// コントローラーの1回限りのコールバックは後の要求で置き換わるため、
// 配信は登録済みの全員へまとめて行う。
type frameWaiters struct {
	mu      sync.Mutex
	waiters map[chan camera.FrameResult]struct{}
}

func newFrameWaiters() *frameWaiters {
	return &frameWaiters{waiters: make(map[chan camera.FrameResult]struct{})}
}

func (w *frameWaiters) add() chan camera.FrameResult {
	ch := make(chan camera.FrameResult, 1)
	w.mu.Lock()
	w.waiters[ch] = struct{}{}
	w.mu.Unlock()
	return ch
}

func (w *frameWaiters) remove(ch chan camera.FrameResult) {
	w.mu.Lock()
	delete(w.waiters, ch)
	w.mu.Unlock()
}

func (w *frameWaiters) deliver(r camera.FrameResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.waiters {
		ch <- r
		delete(w.waiters, ch)
	}
}

func (w *frameWaiters) deliverData(data *camera.SourceData) {
	w.deliver(camera.FrameResult{Data: data})
}

func (w *frameWaiters) deliverError(err error) {
	w.deliver(camera.FrameResult{Err: err})
}

func (w *frameWaiters) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}

// Snapshot は次のプレビューフレームを表示の向きのJPEGにする
func (h *CameraHost) Snapshot(ctx context.Context) ([]byte, error) {
	frame, err := h.Frame(ctx)
	if err != nil {
		return nil, err
	}
	return imaging.EncodeJPEG(frame, imaging.Options{Rotate: true})
}

// StartRecord は録画を開始し、出力先を返す。nameが空なら時刻から決める
func (h *CameraHost) StartRecord(name string) (string, error) {
	if h.opts.Recorder == nil {
		return "", errors.Wrap(camera.ErrRecorderUnavailable, "録画機能が設定されていません")
	}
	path := recordPath(h.opts.RecordDir, name, time.Now())

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.session.StartRecord(path, h.opts.MaxDuration); err != nil {
		return "", err
	}
	h.stateMu.Lock()
	h.recording = true
	h.stateMu.Unlock()
	return path, nil
}

// StopRecord は録画を停止する
func (h *CameraHost) StopRecord() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.session.StopRecord(); err != nil {
		return err
	}
	h.stateMu.Lock()
	h.recording = false
	h.stateMu.Unlock()
	return nil
}

// recordPath はdir配下の出力先を返す。nameのディレクトリ部分は無視する
func recordPath(dir, name string, now time.Time) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = fmt.Sprintf("record_%s.mp4", now.Format("20060102-150405"))
	}
	if filepath.Ext(name) == "" {
		name += ".mp4"
	}
	return filepath.Join(dir, name)
}

// Status は現在の状態を返す
func (h *CameraHost) Status() HostStatus {
	h.mu.Lock()
	open := h.session.IsOpen()
	h.mu.Unlock()

	queue := h.session.Queue()
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()

	status := HostStatus{
		SessionID:      h.session.ID(),
		Open:           open,
		CameraClosed:   h.session.IsCameraClosed(),
		Configured:     h.configured,
		Previewing:     h.previewing,
		Recording:      h.recording,
		Rotation:       h.session.CameraRotation(),
		PreviewWidth:   h.previewSize.Width,
		PreviewHeight:  h.previewSize.Height,
		LastError:      h.lastError,
		WorkerAlive:    queue.Alive(),
		WorkerSessions: queue.Instances(),
	}
	if h.opts.LightSensor != nil {
		if lux := h.opts.LightSensor.Last(); lux >= 0 {
			status.Lux = &lux
		}
	}
	return status
}

// Shutdown はカメラを閉じ、ワーカーが終わるのを待ってから通知の受信を止める。何度呼んでもよい
func (h *CameraHost) Shutdown(ctx context.Context) error {
	h.Close()
	err := h.WaitClosed(ctx)
	if err == nil {
		err = h.domains.WaitIdle(ctx)
	}
	h.quitOnce.Do(func() { close(h.quit) })
	<-h.loopDone
	return err
}
