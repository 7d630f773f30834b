package worker

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"poolserve/internal/events"
)

// Job はワーカーが実行するジョブを表す
// 一度だけ実行され、戻り値はない
type Job func()

// State はワーカーの状態
type State int32

const (
	StateWaiting State = iota
	StateExecuting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateExecuting:
		return "executing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerInfo はワーカーの状態のスナップショット
type WorkerInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Restarts uint64 `json:"restarts"`
}

// worker は専用スレッド上でキューからジョブを取り出して実行する
type worker struct {
	id       int
	name     string
	pool     *Pool
	state    atomic.Int32
	restarts atomic.Uint64
	ready    chan struct{}
	done     chan struct{}
}

func newWorker(id int, p *Pool) *worker {
	return &worker{
		id:    id,
		name:  events.WorkerSource(id),
		pool:  p,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (w *worker) State() State {
	return State(w.state.Load())
}

func (w *worker) setState(s State) {
	w.state.Store(int32(s))
}

// run はワーカーの初回起動時のエントリポイント
func (w *worker) run() {
	w.setState(StateWaiting)
	close(w.ready)
	w.pool.bus.Publish(events.NewWorkerStartedEvent(w.id))
	w.pool.log.Debug(w.name, "Worker started")

	w.loop()
}

// loop はキューがクローズされ空になるまで waiting と executing を繰り返す
//
// ジョブがゴルーチンごと終了させた場合（runtime.Goexit）は、同じIDで
// 新しいスレッドにループを引き継ぐ。done はキューを読み切ったときだけ閉じる。
func (w *worker) loop() {
	drained := false
	defer func() {
		if drained {
			w.stop()
			return
		}
		w.restart()
	}()

	for {
		job, ok := w.pool.queue.recv()
		if !ok {
			drained = true
			return
		}
		w.setState(StateExecuting)
		w.execute(job)
		w.setState(StateWaiting)
	}
}

// restart は終了しつつあるゴルーチンから呼ばれ、代わりのループを起動する
func (w *worker) restart() {
	n := w.restarts.Add(1)
	w.setState(StateWaiting)
	w.pool.log.Warn(w.name, "Worker goroutine ended during a job; restarting (restart #%d)", n)

	if err := w.pool.spawn(w.id, w.loop); err != nil {
		w.pool.log.Error(w.name, "Failed to restart worker: %v", err)
		w.stop()
		return
	}
	w.pool.bus.Publish(events.NewWorkerRestartedEvent(w.id))
}

func (w *worker) stop() {
	w.setState(StateStopped)
	w.pool.bus.Publish(events.NewWorkerStoppedEvent(w.id))
	w.pool.log.Debug(w.name, "Queue closed, worker stopped")
	close(w.done)
}

// execute は1つのジョブを実行する。panicはここで回収し、ワーカーは生き残る
// ジョブが戻らずに終わった場合も失敗として記録する
func (w *worker) execute(job Job) {
	m := w.pool.metrics
	start := time.Now()
	completed := false

	m.Begin()
	defer m.End()

	defer func() {
		r := recover()
		switch {
		case r != nil:
			perr := &PanicError{WorkerID: w.id, Value: r, Stack: debug.Stack()}
			m.RecordFailure(time.Since(start))
			w.pool.log.Error(w.name, "%v", perr)
			w.pool.log.Debug(w.name, "%s", perr.Stack)
			w.pool.bus.Publish(events.NewJobPanickedEvent(w.id, perr))
		case !completed:
			m.RecordFailure(time.Since(start))
			w.pool.log.Error(w.name, "%v", ErrJobExited)
			w.pool.bus.Publish(events.NewJobPanickedEvent(w.id, ErrJobExited))
		default:
			m.RecordSuccess(time.Since(start))
		}
	}()

	w.pool.log.Debug(w.name, "Got a job; executing")
	job()
	completed = true
}
