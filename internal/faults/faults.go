package faults

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/worker"
)

// Config は障害注入の設定
type Config struct {
	PanicRate float64       // ジョブ後にpanicさせる確率（0〜1）
	DelayRate float64       // ジョブ前に遅延させる確率（0〜1）
	Delay     time.Duration // 遅延時間
	Seed      int64         // 0で現在時刻
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		PanicRate: 0.05,
		DelayRate: 0.1,
		Delay:     100 * time.Millisecond,
	}
}

// Validate は設定値を検証する
func (c Config) Validate() error {
	if c.PanicRate < 0 || c.PanicRate > 1 {
		return fmt.Errorf("panic rate must be within [0, 1], got %v", c.PanicRate)
	}
	if c.DelayRate < 0 || c.DelayRate > 1 {
		return fmt.Errorf("delay rate must be within [0, 1], got %v", c.DelayRate)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %v", c.Delay)
	}
	return nil
}

// InjectedPanic は注入されたpanicの値
type InjectedPanic struct {
	Seq uint64
}

func (p InjectedPanic) String() string {
	return fmt.Sprintf("injected fault #%d", p.Seq)
}

// Stats は障害注入の統計情報
type Stats struct {
	TotalFaults uint64            `json:"total_faults"`
	ByKind      map[string]uint64 `json:"faults_by_kind"`
}

// Injector はジョブに障害を注入する
type Injector struct {
	config   Config
	eventBus *events.Bus
	log      *logger.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	total  uint64
	byKind map[events.FaultKind]uint64
}

// New は新しいInjectorを作成する
func New(config Config) *Injector {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Injector{
		config: config,
		log:    logger.Default,
		rng:    rand.New(rand.NewSource(seed)),
		byKind: make(map[events.FaultKind]uint64),
	}
}

// SetEventBus はイベントバスを設定する
func (i *Injector) SetEventBus(bus *events.Bus) {
	i.eventBus = bus
}

// SetLogger はロガーを設定する
func (i *Injector) SetLogger(l *logger.Logger) {
	i.log = l
}

// Wrap は job を障害注入付きのジョブで包む
// 注入の判定はジョブ実行時にワーカー上で行う
func (i *Injector) Wrap(job worker.Job) worker.Job {
	return func() {
		delay, panicSeq := i.roll()
		if delay {
			time.Sleep(i.config.Delay)
		}
		job()
		if panicSeq > 0 {
			panic(InjectedPanic{Seq: panicSeq})
		}
	}
}

// roll は今回のジョブに注入する障害を決めて記録する
func (i *Injector) roll() (delay bool, panicSeq uint64) {
	i.mu.Lock()
	delay = i.config.DelayRate > 0 && i.rng.Float64() < i.config.DelayRate
	doPanic := i.config.PanicRate > 0 && i.rng.Float64() < i.config.PanicRate
	if delay {
		i.record(events.FaultDelay)
	}
	if doPanic {
		i.record(events.FaultPanic)
		panicSeq = i.total
	}
	i.mu.Unlock()

	if delay {
		i.log.Debug("faults", "Delaying job by %v", i.config.Delay)
		i.eventBus.Publish(events.NewFaultInjectedEvent(events.FaultDelay, i.config.Delay))
	}
	if doPanic {
		i.log.Debug("faults", "Job will panic (fault #%d)", panicSeq)
		i.eventBus.Publish(events.NewFaultInjectedEvent(events.FaultPanic, 0))
	}
	return delay, panicSeq
}

// record は mu を保持した状態で呼ぶ
func (i *Injector) record(kind events.FaultKind) {
	i.total++
	i.byKind[kind]++
}

// Stats は統計情報を返す
func (i *Injector) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()

	byKind := make(map[string]uint64, len(i.byKind))
	for k, v := range i.byKind {
		byKind[string(k)] = v
	}
	return Stats{
		TotalFaults: i.total,
		ByKind:      byKind,
	}
}
