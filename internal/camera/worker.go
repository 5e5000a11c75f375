package camera

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// WorkerQueue はハードウェア操作を1本の専用スレッドでFIFO実行するキュー
//
// OSスレッドに固定したゴルーチンを1つだけ持ち、投入された操作を投入順に1つずつ実行する。
// ゴルーチンは必要になった時点で起動し、キューが空でかつ参照カウントが0になると終了する
// （LockOSThreadしたまま終了するため、スレッドも破棄される）。
// 全てのメソッドは任意のゴルーチンから呼び出してよい。
type WorkerQueue struct {
	name string
	log  *zap.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []func()
	running   bool
	instances int
	done      chan struct{}

	// ロックなしで参照するためのスナップショット
	count *atomic.Int32
	alive *atomic.Bool
}

// NewWorkerQueue は新しいWorkerQueueを作成する。スレッドは最初の投入時に作られる
func NewWorkerQueue(name string, logger *zap.Logger) *WorkerQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &WorkerQueue{
		name:  name,
		log:   logger.With(zap.String("worker", name)),
		count: atomic.NewInt32(0),
		alive: atomic.NewBool(false),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name はキューの名前を返す
func (q *WorkerQueue) Name() string {
	return q.name
}

// Enqueue は操作を末尾に追加する
func (q *WorkerQueue) Enqueue(op func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(op)
}

// IncrementAndEnqueue は参照カウントを増やしてから操作を追加する
//
// Openに使い、操作の実行中にスレッドが存在することを保証する。
func (q *WorkerQueue) IncrementAndEnqueue(op func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.instances++
	q.count.Store(int32(q.instances))
	q.enqueueLocked(op)
}

// DecrementInstances は参照カウントを減らす
//
// 0になった場合、既に投入済みの操作を全て実行し終えた時点でスレッドを終了する。
func (q *WorkerQueue) DecrementInstances() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.instances == 0 {
		q.log.Warn("参照カウントが既に0です")
		return
	}
	q.instances--
	q.count.Store(int32(q.instances))
	if q.instances == 0 {
		q.log.Debug("参照カウントが0になりました。キューを実行し終えたらスレッドを終了します")
		q.cond.Signal()
	}
}

// Instances は現在の参照カウントを返す
func (q *WorkerQueue) Instances() int {
	return int(q.count.Load())
}

// Alive はワーカースレッドが存在するかを返す
func (q *WorkerQueue) Alive() bool {
	return q.alive.Load()
}

// WaitIdle はワーカースレッドが終了するまで待つ
func (q *WorkerQueue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.running {
			q.mu.Unlock()
			return nil
		}
		done := q.done
		q.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *WorkerQueue) enqueueLocked(op func()) {
	q.queue = append(q.queue, op)
	if q.running {
		q.cond.Signal()
		return
	}

	q.running = true
	q.alive.Store(true)
	q.done = make(chan struct{})
	go q.loop(q.done)
}

func (q *WorkerQueue) loop(done chan struct{}) {
	// UnlockOSThreadしないまま終了し、スレッドごと破棄させる
	runtime.LockOSThread()
	defer close(done)

	q.log.Debug("ワーカースレッドを開始しました")
	for {
		q.mu.Lock()
		for len(q.queue) == 0 {
			if q.instances == 0 {
				q.running = false
				q.alive.Store(false)
				q.mu.Unlock()
				q.log.Debug("ワーカースレッドを終了しました")
				return
			}
			q.cond.Wait()
		}
		op := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.run(op)
	}
}

func (q *WorkerQueue) run(op func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("ワーカー上の操作がpanicしました", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	op()
}

// DomainMode はワーカースレッドの共有単位
type DomainMode string

const (
	// DomainGlobal は全カメラで1本のスレッドを共有する
	DomainGlobal DomainMode = "global"
	// DomainPerCamera はカメラごとに別のスレッドを使う
	DomainPerCamera DomainMode = "per-camera"
)

// Domains はスレッド閉じ込めドメインごとのWorkerQueueを保持する
//
// 配備時にどちらのモードを使うか決め、セッションへはここから得たキューを明示的に渡す。
type Domains struct {
	mode   DomainMode
	log    *zap.Logger
	mu     sync.Mutex
	queues map[string]*WorkerQueue
}

// NewDomains は新しいDomainsを作成する
func NewDomains(mode DomainMode, logger *zap.Logger) *Domains {
	if mode != DomainPerCamera {
		mode = DomainGlobal
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Domains{
		mode:   mode,
		log:    logger,
		queues: make(map[string]*WorkerQueue),
	}
}

// Mode は共有単位を返す
func (d *Domains) Mode() DomainMode {
	return d.mode
}

// QueueFor はカメラIDに対応するキューを返す
func (d *Domains) QueueFor(cameraID int) *WorkerQueue {
	name := string(DomainGlobal)
	if d.mode == DomainPerCamera {
		name = fmt.Sprintf("camera-%d", cameraID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[name]
	if !ok {
		q = NewWorkerQueue(name, d.log)
		d.queues[name] = q
	}
	return q
}

// WaitIdle は全てのキューのスレッドが終了するまで待つ
func (d *Domains) WaitIdle(ctx context.Context) error {
	d.mu.Lock()
	queues := make([]*WorkerQueue, 0, len(d.queues))
	for _, q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.Unlock()

	for _, q := range queues {
		if err := q.WaitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}
