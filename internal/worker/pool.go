package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
)

// Spawner は run を専用の実行スレッドで起動する
// nil を返した場合は必ず run を実行しなければならない
type Spawner func(id int, run func()) error

// ThreadSpawner はワーカーごとにOSスレッドを固定したゴルーチンを起動する
func ThreadSpawner(_ int, run func()) error {
	go func() {
		// ロックしたまま終了するとスレッドも破棄される
		runtime.LockOSThread()
		run()
	}()
	return nil
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Size          int              // ワーカー数（1以上）
	QueueCapacity int              // キュー上限（0で無制限）
	Spawner       Spawner          // nilで ThreadSpawner
	Logger        *logger.Logger   // nilで logger.Default
	Metrics       *metrics.Metrics // nilで新規作成
	Events        *events.Bus      // nilでイベントを発行しない
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:          runtime.NumCPU(),
		QueueCapacity: 0,
	}
}

// Pool は固定数のワーカーとジョブキューの送信側を持つ
type Pool struct {
	workers []*worker
	queue   *jobQueue
	spawn   Spawner
	log     *logger.Logger
	metrics *metrics.Metrics
	bus     *events.Bus

	shutdownOnce sync.Once
	joined       chan struct{}
}

// NewPool は size 個のワーカーを持つプールを作成する
func NewPool(size int) (*Pool, error) {
	config := DefaultPoolConfig()
	config.Size = size
	return NewPoolWithConfig(config)
}

// MustNewPool は NewPool と同じだが、失敗時はpanicする
// 復旧手段のない起動処理から使う
func MustNewPool(size int) *Pool {
	p, err := NewPool(size)
	if err != nil {
		panic(fmt.Sprintf("worker: cannot create pool of size %d: %v", size, err))
	}
	return p
}

// NewPoolWithConfig は設定を指定してプールを作成し、全ワーカーを起動する
//
// Size が 1 未満なら ErrZeroSize を返し、スレッドは作らない。
// 途中のワーカーの起動に失敗した場合は起動済みのワーカーを停止・合流させてから
// *ThreadCreationError を返す。
func NewPoolWithConfig(config PoolConfig) (*Pool, error) {
	if config.Size < 1 {
		return nil, ErrZeroSize
	}

	spawn := config.Spawner
	if spawn == nil {
		spawn = ThreadSpawner
	}
	log := config.Logger
	if log == nil {
		log = logger.Default
	}
	m := config.Metrics
	if m == nil {
		m = metrics.New()
	}

	p := &Pool{
		workers: make([]*worker, 0, config.Size),
		queue:   newJobQueue(config.QueueCapacity),
		spawn:   spawn,
		log:     log,
		metrics: m,
		bus:     config.Events,
		joined:  make(chan struct{}),
	}

	for id := range config.Size {
		w := newWorker(id, p)
		if err := spawn(id, w.run); err != nil {
			log.Error("pool", "Failed to start worker %d: %v", id, err)
			p.Shutdown()
			return nil, &ThreadCreationError{Slot: id, Err: err}
		}
		<-w.ready
		p.workers = append(p.workers, w)
	}

	log.Info("pool", "Worker pool started with %d workers", len(p.workers))
	return p, nil
}

// Submit はジョブをキューに投入する
// 実行の開始や完了は待たない。上限付きキューが満杯の場合のみ空きを待つ
func (p *Pool) Submit(job Job) error {
	return p.submit(job, true)
}

// TrySubmit はキューが満杯なら待たずに ErrQueueFull を返す
func (p *Pool) TrySubmit(job Job) error {
	return p.submit(job, false)
}

func (p *Pool) submit(job Job, block bool) error {
	if job == nil {
		p.metrics.RecordRejected()
		return ErrNilJob
	}
	if err := p.queue.push(job, block); err != nil {
		p.metrics.RecordRejected()
		return err
	}
	p.metrics.RecordSubmitted()
	return nil
}

// Shutdown はプールを停止する
//
// キューをクローズし、投入済みのジョブをすべて実行し終えたワーカーを
// 作成順に合流させてから戻る。実行中のジョブは中断しない。複数回呼んでもよい。
func (p *Pool) Shutdown() {
	p.beginShutdown()
	<-p.joined
}

// ShutdownContext は Shutdown と同じだが、ctx が先に終了した場合はエラーを返す
// その場合もワーカーは残りのジョブを実行し続け、後の Shutdown で合流できる
func (p *Pool) ShutdownContext(ctx context.Context) error {
	p.beginShutdown()

	select {
	case <-p.joined:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for workers to finish: %w", ctx.Err())
	}
}

func (p *Pool) beginShutdown() {
	p.shutdownOnce.Do(func() {
		p.log.Info("pool", "Shutting down %d workers (%d jobs queued)", len(p.workers), p.queue.len())
		p.queue.close()
		go p.join()
	})
}

func (p *Pool) join() {
	for _, w := range p.workers {
		<-w.done
		p.log.Debug("pool", "Joined worker %d", w.id)
	}
	p.bus.Publish(events.NewPoolShutdownEvent(len(p.workers)))
	p.log.Info("pool", "Worker pool stopped")
	close(p.joined)
}

// Size はワーカー数を返す
func (p *Pool) Size() int {
	return len(p.workers)
}

// Live は停止していないワーカー数を返す
func (p *Pool) Live() int {
	n := 0
	for _, w := range p.workers {
		if w.State() != StateStopped {
			n++
		}
	}
	return n
}

// Pending はまだワーカーに取り出されていないジョブ数を返す
func (p *Pool) Pending() int {
	return p.queue.len()
}

// Closed はシャットダウンが始まっているかを返す
func (p *Pool) Closed() bool {
	return p.queue.isClosed()
}

// Workers は各ワーカーの状態を作成順に返す
func (p *Pool) Workers() []WorkerInfo {
	infos := make([]WorkerInfo, len(p.workers))
	for i, w := range p.workers {
		infos[i] = WorkerInfo{
			ID:       w.id,
			Name:     w.name,
			State:    w.State().String(),
			Restarts: w.restarts.Load(),
		}
	}
	return infos
}

// Metrics はプールのメトリクスを返す
func (p *Pool) Metrics() *metrics.Metrics {
	return p.metrics
}
