package camera

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// TooDarkLux 以下ならトーチを点ける
	TooDarkLux = 45.0
	// BrightEnoughLux 以上ならトーチを消す
	BrightEnoughLux = 450.0
)

// LightSensor は周囲の明るさ（ルクス）を通知する
type LightSensor interface {
	// Subscribe はhandlerを登録し、登録解除の関数を返す。handlerは任意のゴルーチンから呼ばれる
	Subscribe(handler func(lux float64)) (unsubscribe func())
}

// torchController はトーチを切り替えられるもの
type torchController interface {
	SetTorch(on bool)
}

// AmbientLightManager は周囲の明るさに応じてトーチを切り替える
type AmbientLightManager struct {
	sensor  LightSensor
	torch   torchController
	post    func(func())
	log     *zap.Logger
	enabled bool

	running     *atomic.Bool
	unsubscribe func()
}

// NewAmbientLightManager は新しいAmbientLightManagerを作成する
//
// AutoTorchEnabledでない場合やsensorがnilの場合は何もしない。
func NewAmbientLightManager(sensor LightSensor, torch torchController, settings Settings, post func(func()), logger *zap.Logger) *AmbientLightManager {
	return &AmbientLightManager{
		sensor:  sensor,
		torch:   torch,
		post:    post,
		log:     logger,
		enabled: settings.AutoTorchEnabled && sensor != nil,
		running: atomic.NewBool(false),
	}
}

// Start はセンサーの購読を始める
func (m *AmbientLightManager) Start() {
	if !m.enabled || m.running.Load() {
		return
	}
	m.running.Store(true)
	m.unsubscribe = m.sensor.Subscribe(m.onLux)
	m.log.Debug("周囲の明るさの監視を開始しました")
}

// Stop はセンサーの購読をやめる
func (m *AmbientLightManager) Stop() {
	if !m.running.Load() {
		return
	}
	m.running.Store(false)
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.log.Debug("周囲の明るさの監視を停止しました")
}

func (m *AmbientLightManager) onLux(lux float64) {
	if !m.running.Load() {
		return
	}

	var on bool
	switch {
	case lux <= TooDarkLux:
		on = true
	case lux >= BrightEnoughLux:
		on = false
	default:
		return
	}

	m.post(func() {
		// Stopの後に届いた通知は無視する
		if !m.running.Load() {
			return
		}
		m.log.Debug("明るさに応じてトーチを切り替えます", zap.Float64("lux", lux), zap.Bool("on", on))
		m.torch.SetTorch(on)
	})
}

// LuxFeed は外部から明るさを書き込めるLightSensor
//
// 照度センサーを直接読めない環境で、HTTPなどから受け取った値を流すのに使う。
type LuxFeed struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(lux float64)
	last     *atomic.Float64
}

// NewLuxFeed は新しいLuxFeedを作成する
func NewLuxFeed() *LuxFeed {
	return &LuxFeed{
		handlers: make(map[int]func(lux float64)),
		last:     atomic.NewFloat64(-1),
	}
}

// Subscribe はhandlerを登録する
func (f *LuxFeed) Subscribe(handler func(lux float64)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

// Publish は全ての購読者に明るさを通知する
func (f *LuxFeed) Publish(lux float64) {
	f.last.Store(lux)

	f.mu.Lock()
	handlers := make([]func(float64), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(lux)
	}
}

// Last は最後に通知された明るさを返す。未通知なら-1
func (f *LuxFeed) Last() float64 {
	return f.last.Load()
}

// Subscribers は購読者の数を返す
func (f *LuxFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}
