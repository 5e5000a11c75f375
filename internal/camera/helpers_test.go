package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testTimeout = 2 * time.Second

// harness は専用のワーカー上でControllerを動かす
type harness struct {
	t      *testing.T
	queue  *WorkerQueue
	driver *MockDriver
	ctrl   *Controller
}

func newHarness(t *testing.T, driver *MockDriver, opts ...ControllerOption) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	q := NewWorkerQueue("test", logger)
	h := &harness{
		t:      t,
		queue:  q,
		driver: driver,
		ctrl:   NewController(driver, q.Enqueue, logger, opts...),
	}

	// テストの間スレッドを保持する
	q.IncrementAndEnqueue(func() {})
	t.Cleanup(func() {
		h.do(h.ctrl.StopPreview)
		h.do(h.ctrl.Close)
		q.DecrementInstances()
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		require.NoError(t, q.WaitIdle(ctx))
	})
	return h
}

// do はfnをワーカー上で実行し、完了を待つ
func (h *harness) do(fn func()) {
	h.t.Helper()
	done := make(chan struct{})
	h.queue.Enqueue(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(testTimeout):
		h.t.Fatal("worker did not run the operation in time")
	}
}

// doErr はfnをワーカー上で実行してエラーを返す
func (h *harness) doErr(fn func() error) error {
	h.t.Helper()
	var err error
	h.do(func() { err = fn() })
	return err
}

// flush は既に投入された処理が全て終わるのを待つ
func (h *harness) flush() {
	h.t.Helper()
	h.do(func() {})
}

// openConfigured はカメラを開いて設定し、プレビューを開始する
func (h *harness) openConfigured(display *DisplayConfiguration) *MockDevice {
	h.t.Helper()
	require.NoError(h.t, h.doErr(func() error { return h.ctrl.Open(context.Background()) }))
	h.do(func() { h.ctrl.SetDisplayConfiguration(display) })
	require.NoError(h.t, h.doErr(h.ctrl.Configure))
	require.NoError(h.t, h.doErr(h.ctrl.StartPreview))
	return h.driver.Device()
}

// frameRecorder は受け取ったフレームとエラーを記録する
type frameRecorder struct {
	mu     sync.Mutex
	frames []*SourceData
	errs   []error
}

func (r *frameRecorder) OnPreview(data *SourceData) { r.add(data, nil) }
func (r *frameRecorder) OnPreviewError(err error)   { r.add(nil, err) }
func (r *frameRecorder) OnPicture(data *SourceData) { r.add(data, nil) }
func (r *frameRecorder) OnPictureError(err error)   { r.add(nil, err) }

func (r *frameRecorder) add(data *SourceData, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if data != nil {
		r.frames = append(r.frames, data)
	}
	if err != nil {
		r.errs = append(r.errs, err)
	}
}

func (r *frameRecorder) Frames() []*SourceData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*SourceData(nil), r.frames...)
}

func (r *frameRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *frameRecorder) Deliveries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) + len(r.errs)
}

// fakeRecorder は呼び出しを記録するRecorder
type fakeRecorder struct {
	mu          sync.Mutex
	failPrepare error
	failStart   error
	specs       []RecordSpec
	sources     []string
	started     bool
	resets      int
}

func (r *fakeRecorder) Prepare(dev Device, spec RecordSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	r.sources = append(r.sources, dev.Source())
	return r.failPrepare
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStart != nil {
		return r.failStart
	}
	r.started = true
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	return nil
}

func (r *fakeRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func nv21Frame(size Size) []byte {
	return make([]byte, size.Area()*3/2)
}

func filterCalls(calls []string, names ...string) []string {
	var out []string
	for _, c := range calls {
		for _, n := range names {
			if c == n {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// nilParamsDriver はパラメーターを返さないデバイスを開く
type nilParamsDriver struct {
	*MockDriver
}

func (d nilParamsDriver) Open(ctx context.Context, id int, post func(func())) (Device, error) {
	dev, err := d.MockDriver.Open(ctx, id, post)
	if err != nil {
		return nil, err
	}
	return nilParamsDevice{dev.(*MockDevice)}, nil
}

type nilParamsDevice struct {
	*MockDevice
}

func (nilParamsDevice) Parameters() (*Parameters, error) {
	return nil, nil
}
