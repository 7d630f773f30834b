// Package faults injects failures into pool jobs.
//
// An Injector wraps each job so that, at configured rates, it is delayed
// before it runs or panics after it runs. It exists to exercise the pool's
// panic containment under real traffic.
//
// # Basic Usage
//
//	inj := faults.New(faults.Config{PanicRate: 0.1, DelayRate: 0.2, Delay: 100 * time.Millisecond})
//	inj.SetEventBus(bus)
//	srv.SetJobWrapper(inj.Wrap)
//
// # Fault Kinds
//
//   - panic: the wrapped job runs to completion, then the wrapper panics
//   - delay: the wrapper sleeps for Config.Delay before running the job
//
// The panic is raised after the job so that connection jobs still answer
// and close their connection.
package faults
