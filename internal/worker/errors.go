package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrZeroSize はプールサイズが1未満の場合に返される
	ErrZeroSize = errors.New("worker: pool size must be at least 1")

	// ErrPoolClosed はシャットダウン開始後の投入に対して返される
	ErrPoolClosed = errors.New("worker: pool is shut down")

	// ErrQueueFull は上限付きキューが満杯のときTrySubmitが返す
	ErrQueueFull = errors.New("worker: job queue is full")

	// ErrNilJob はnilのジョブを投入した場合に返される
	ErrNilJob = errors.New("worker: nil job")

	// ErrJobExited はジョブが戻らずにゴルーチンを終了させた場合（runtime.Goexit）の失敗
	ErrJobExited = errors.New("worker: job exited its goroutine without returning")
)

// ThreadCreationError はワーカースレッドの起動失敗を表す
type ThreadCreationError struct {
	Slot int   // 起動に失敗したワーカーID
	Err  error // Spawnerが返したエラー
}

func (e *ThreadCreationError) Error() string {
	return fmt.Sprintf("worker: failed to start worker %d: %v", e.Slot, e.Err)
}

func (e *ThreadCreationError) Unwrap() error {
	return e.Err
}

// PanicError はジョブ内で発生したpanicを表す
type PanicError struct {
	WorkerID int
	Value    any
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker %d: job panicked: %v", e.WorkerID, e.Value)
}
