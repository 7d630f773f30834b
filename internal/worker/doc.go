// Package worker provides a fixed-size pool of OS-thread-backed workers for
// concurrent job execution.
//
// A Pool owns N workers and the sending side of a shared job queue. Each
// worker is a goroutine locked to its own OS thread for its whole life. It
// takes the queue lock only while dequeuing the next Job and releases it
// before running the job, so N workers can execute N jobs at once.
//
// # Basic Usage
//
//	pool, err := worker.NewPool(4) // 4 workers
//	if err != nil {
//	    return err // worker.ErrZeroSize or *worker.ThreadCreationError
//	}
//	defer pool.Shutdown()
//
//	for conn := range conns {
//	    if err := pool.Submit(func() { handle(conn) }); err != nil {
//	        return err // worker.ErrPoolClosed
//	    }
//	}
//
// MustNewPool is the infallible variant for callers with no recovery path;
// it panics when the pool cannot be built.
//
// # Configuration
//
// Use NewPoolWithConfig for custom settings:
//
//	config := worker.DefaultPoolConfig()
//	config.Size = 8
//	config.QueueCapacity = 1600 // 0 keeps the queue unbounded
//	pool, err := worker.NewPoolWithConfig(config)
//
// With a bounded queue Submit blocks while the queue is full and TrySubmit
// returns ErrQueueFull instead.
//
// # Failure Containment
//
// A job that panics is recovered by its worker, logged and counted as a
// failure. The worker then goes back to waiting for the next job.
//
// # Graceful Shutdown
//
// Shutdown closes the queue, lets the workers drain every job that was
// already queued, and joins each worker in creation order. Jobs are never
// interrupted mid-execution. Submissions after Shutdown fail with
// ErrPoolClosed.
package worker
