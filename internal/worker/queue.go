package worker

import "sync"

// jobQueue は複数の投入者と複数のワーカーをつなぐジョブキュー
//
// 取り出しはmuで排他され、ロックはジョブを返す前に解放される。
// capacity が 0 の場合は上限なし。
type jobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	jobs     []Job
	capacity int
	closed   bool
}

func newJobQueue(capacity int) *jobQueue {
	if capacity < 0 {
		capacity = 0
	}
	q := &jobQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// push はジョブを末尾に追加する
// block が false の場合、満杯なら待たずに ErrQueueFull を返す
func (q *jobQueue) push(job Job, block bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.full() {
		if !block {
			return ErrQueueFull
		}
		q.notFull.Wait()
	}
	if q.closed {
		return ErrPoolClosed
	}

	q.jobs = append(q.jobs, job)
	q.notEmpty.Signal()
	return nil
}

// recv は次のジョブを取り出す。キューが空の間はブロックする
// クローズ済みかつ空になったら ok=false を返す
func (q *jobQueue) recv() (job Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.jobs) == 0 {
		return nil, false
	}

	job = q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.jobs = nil
	}
	q.notFull.Signal()
	return job, true
}

// close は以降の投入を拒否し、待機中のワーカーと投入者を起こす
// 残っているジョブはrecvで取り出せる
func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *jobQueue) full() bool {
	return q.capacity > 0 && len(q.jobs) >= q.capacity
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *jobQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
