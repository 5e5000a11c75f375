package timelapse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// snapshotTimeout は1枚の撮影を待つ上限
const snapshotTimeout = 5 * time.Second

// Capture は一定間隔で撮影したフレームをため、定期的に動画へ追記する
type Capture struct {
	source FrameSource
	writer videoWriter
	config Config
	log    *zap.Logger
	now    func() time.Time

	mu           sync.RWMutex
	frameBuffer  []Frame
	currentVideo string
	lastUpdate   time.Time
	captured     int
	failures     int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCapture は新しいCaptureを作成する
func NewCapture(source FrameSource, writer videoWriter, config Config, logger *zap.Logger) *Capture {
	return &Capture{
		source:      source,
		writer:      writer,
		config:      config,
		log:         logger,
		now:         time.Now,
		frameBuffer: make([]Frame, 0, config.MaxFrameBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start は撮影と動画更新のゴルーチンを起動する
func (tc *Capture) Start(ctx context.Context) error {
	if err := os.MkdirAll(tc.config.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "出力ディレクトリの作成に失敗")
	}

	tc.wg.Add(2)
	go tc.captureFrames(ctx)
	go tc.videoUpdateScheduler(ctx)

	tc.log.Info("タイムラプスの撮影を開始しました",
		zap.Duration("interval", tc.config.CaptureInterval), zap.String("dir", tc.config.OutputDir))
	return nil
}

// Stop はゴルーチンを止め、バッファに残ったフレームを動画に書き出す
func (tc *Capture) Stop(ctx context.Context) error {
	close(tc.stopCh)

	done := make(chan struct{})
	go func() {
		tc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "タイムラプスの停止待ちを中断しました")
	}

	if err := tc.updateVideo(ctx); err != nil {
		return errors.Wrap(err, "最終更新に失敗")
	}
	tc.log.Info("タイムラプスの撮影を停止しました")
	return nil
}

func (tc *Capture) captureFrames(ctx context.Context) {
	defer tc.wg.Done()

	ticker := time.NewTicker(tc.config.CaptureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tc.stopCh:
			return
		case <-ticker.C:
			if err := tc.captureFrame(ctx); err != nil {
				tc.log.Debug("タイムラプスのフレームを取得できませんでした", zap.Error(err))
			}
		}
	}
}

// captureFrame は1枚撮影してバッファに追加する。上限を超えたら古いものから捨てる
func (tc *Capture) captureFrame(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	data, err := tc.source.Snapshot(ctx)
	if err != nil {
		tc.mu.Lock()
		tc.failures++
		tc.mu.Unlock()
		return err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.frameBuffer = append(tc.frameBuffer, Frame{Timestamp: tc.now(), Data: data})
	if limit := tc.config.MaxFrameBuffer; limit > 0 && len(tc.frameBuffer) > limit {
		tc.frameBuffer = tc.frameBuffer[len(tc.frameBuffer)-limit:]
	}
	tc.captured++
	return nil
}

func (tc *Capture) videoUpdateScheduler(ctx context.Context) {
	defer tc.wg.Done()

	ticker := time.NewTicker(tc.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tc.stopCh:
			return
		case <-ticker.C:
			if err := tc.updateVideo(ctx); err != nil {
				tc.log.Error("動画の更新に失敗しました", zap.Error(err))
			}
		}
	}
}

// updateVideo はバッファのフレームを当日の動画に追記する。日付が変わればファイルも変わる
func (tc *Capture) updateVideo(ctx context.Context) error {
	tc.mu.Lock()
	frames := tc.frameBuffer
	tc.frameBuffer = make([]Frame, 0, tc.config.MaxFrameBuffer)
	if len(frames) > 0 {
		tc.currentVideo = videoFilename(frames[0].Timestamp)
	}
	name := tc.currentVideo
	tc.mu.Unlock()

	if len(frames) == 0 {
		return nil
	}

	videoPath := filepath.Join(tc.config.OutputDir, name)
	if err := tc.writer.ExtendVideo(ctx, videoPath, frames, tc.config.Quality); err != nil {
		return errors.Wrap(err, "動画の延長に失敗")
	}

	tc.mu.Lock()
	tc.lastUpdate = tc.now()
	tc.mu.Unlock()
	tc.log.Debug("動画を更新しました", zap.String("path", videoPath), zap.Int("frames", len(frames)))
	return nil
}

// videoFilename は日付ごとの動画ファイル名を返す
func videoFilename(t time.Time) string {
	return fmt.Sprintf("timelapse_%s.mp4", t.Format("2006-01-02"))
}

// Videos は出力ディレクトリの動画一覧を返す
func (tc *Capture) Videos() ([]Video, error) {
	return listVideos(tc.config.OutputDir, tc.status().CurrentVideo)
}

func listVideos(dir, current string) ([]Video, error) {
	videos := []Video{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return videos, nil
		}
		return nil, errors.Wrap(err, "ディレクトリの読み取りに失敗")
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".mp4" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		status := StatusCompleted
		if entry.Name() == current {
			status = StatusRecording
		}
		videos = append(videos, Video{
			Date:     info.ModTime(),
			FilePath: filepath.Join(dir, entry.Name()),
			FileSize: info.Size(),
			Status:   status,
		})
	}
	return videos, nil
}

// CaptureStatus はキャプチャの現在状態
type CaptureStatus struct {
	CurrentVideo    string    `json:"current_video"`
	FrameBufferSize int       `json:"frame_buffer_size"`
	LastUpdate      time.Time `json:"last_update"`
	Captured        int       `json:"captured"`
	Failures        int       `json:"failures"`
}

func (tc *Capture) status() CaptureStatus {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return CaptureStatus{
		CurrentVideo:    tc.currentVideo,
		FrameBufferSize: len(tc.frameBuffer),
		LastUpdate:      tc.lastUpdate,
		Captured:        tc.captured,
		Failures:        tc.failures,
	}
}
