// Package timelapse はカメラのセッションから定期的に静止画を取り、日ごとのタイムラプス動画にまとめる
package timelapse

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StatusInfo はタイムラプスの状態
type StatusInfo struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
	CaptureStatus
	TotalVideos int   `json:"total_videos"`
	StorageUsed int64 `json:"storage_used"`
}

// Manager はタイムラプスの開始と停止を管理する
type Manager struct {
	config Config
	source FrameSource
	writer videoWriter
	log    *zap.Logger

	mu      sync.Mutex
	capture *Capture
	cancel  context.CancelFunc
}

// NewManager は新しいManagerを作成する
func NewManager(config Config, source FrameSource, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("timelapse")
	return &Manager{
		config: config,
		source: source,
		writer: NewVideoGenerator(logger),
		log:    logger,
	}
}

// Start はタイムラプスを開始する。無効なら何もしない
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		m.log.Debug("タイムラプスは無効です")
		return nil
	}
	if m.capture != nil {
		return errors.New("タイムラプスは既に開始しています")
	}
	if m.config.CaptureInterval <= 0 || m.config.UpdateInterval <= 0 {
		return errors.New("撮影間隔と更新間隔は正の値が必要です")
	}

	ctx, cancel := context.WithCancel(ctx)
	capture := NewCapture(m.source, m.writer, m.config, m.log)
	if err := capture.Start(ctx); err != nil {
		cancel()
		return err
	}
	m.capture = capture
	m.cancel = cancel
	return nil
}

// Stop はタイムラプスを停止し、残りのフレームを書き出す
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	capture, cancel := m.capture, m.cancel
	m.capture, m.cancel = nil, nil
	m.mu.Unlock()

	if capture == nil {
		return nil
	}
	err := capture.Stop(ctx)
	cancel()
	return err
}

// Videos は動画の一覧を返す
func (m *Manager) Videos() ([]Video, error) {
	m.mu.Lock()
	capture := m.capture
	m.mu.Unlock()

	if capture == nil {
		return listVideos(m.config.OutputDir, "")
	}
	return capture.Videos()
}

// Status は現在の状態を返す
func (m *Manager) Status() StatusInfo {
	m.mu.Lock()
	capture := m.capture
	m.mu.Unlock()

	info := StatusInfo{Enabled: m.config.Enabled, Running: capture != nil}
	if capture != nil {
		info.CaptureStatus = capture.status()
	}
	if videos, err := m.Videos(); err == nil {
		info.TotalVideos = len(videos)
		for _, v := range videos {
			info.StorageUsed += v.FileSize
		}
	}
	return info
}
