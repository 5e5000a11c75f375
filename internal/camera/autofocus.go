package camera

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// AutoFocusInterval はオートフォーカスを掛け直す間隔
const AutoFocusInterval = 2 * time.Second

// AutoFocusManager はプレビュー中に一定間隔でオートフォーカスを掛ける
//
// Start/Stopとフォーカスの呼び出しはワーカースレッド上で行い、
// タイマーの発火はpostでワーカーへ戻す。
type AutoFocusManager struct {
	dev      Device
	post     func(func())
	log      *zap.Logger
	useAF    bool
	interval time.Duration

	stopped  bool
	focusing bool
	// Startごとに増やし、古いタイマーの発火を無視する
	generation int

	mu    sync.Mutex
	timer *time.Timer
}

// NewAutoFocusManager は新しいAutoFocusManagerを作成する
//
// フォーカスモードがautoかmacroで、かつAutoFocusEnabledの場合だけ動作する。
func NewAutoFocusManager(dev Device, settings Settings, post func(func()), logger *zap.Logger) *AutoFocusManager {
	useAF := false
	if settings.AutoFocusEnabled {
		if params, err := dev.Parameters(); err == nil && params != nil {
			switch params.FocusMode() {
			case FocusModeAuto, FocusModeMacro:
				useAF = true
			}
		}
	}
	logger.Debug("オートフォーカスの設定", zap.Bool("enabled", useAF))

	return &AutoFocusManager{
		dev:      dev,
		post:     post,
		log:      logger,
		useAF:    useAF,
		interval: AutoFocusInterval,
		stopped:  true,
	}
}

// Enabled は定期フォーカスを行うかを返す
func (m *AutoFocusManager) Enabled() bool {
	return m.useAF
}

// Start はフォーカスを開始する
func (m *AutoFocusManager) Start() {
	m.generation++
	m.stopped = false
	m.focusing = false
	m.focus()
}

// Stop はフォーカスを止める
func (m *AutoFocusManager) Stop() {
	m.stopped = true
	m.focusing = false
	m.generation++
	m.cancelTimer()

	if m.useAF {
		if err := m.dev.CancelAutoFocus(); err != nil {
			m.log.Warn("オートフォーカスの取り消しに失敗しました", zap.Error(err))
		}
	}
}

func (m *AutoFocusManager) focus() {
	if !m.useAF || m.stopped || m.focusing {
		return
	}

	gen := m.generation
	err := m.dev.AutoFocus(func(success bool) {
		if gen != m.generation {
			return
		}
		m.focusing = false
		m.log.Debug("オートフォーカスが完了しました", zap.Bool("success", success))
		m.scheduleLater()
	})
	if err != nil {
		// プレビュー停止と競合した場合など。後でもう一度試す
		m.log.Warn("オートフォーカスを開始できませんでした", zap.Error(err))
		m.scheduleLater()
		return
	}
	m.focusing = true
}

func (m *AutoFocusManager) scheduleLater() {
	if m.stopped {
		return
	}

	gen := m.generation
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.interval, func() {
		m.post(func() {
			if gen == m.generation {
				m.focus()
			}
		})
	})
}

func (m *AutoFocusManager) cancelTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
