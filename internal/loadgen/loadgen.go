package loadgen

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/worker"
)

// QueueFactor はワーカー数に対するキュー上限の倍率
const QueueFactor = 2

// Config はClientの設定
type Config struct {
	Addr          string        // 接続先
	Workers       int           // 同時接続数
	Paths         []string      // 順に送るパス
	Timeout       time.Duration // 1リクエストのタイムアウト
	RequestsLimit uint64        // リクエスト上限（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:    "127.0.0.1:7878",
		Workers: 4,
		Paths:   []string{"/"},
		Timeout: 15 * time.Second,
	}
}

// Client は負荷生成器
type Client struct {
	config  Config
	runID   string
	log     *logger.Logger
	pool    *worker.Pool
	metrics *metrics.Metrics

	running atomic.Bool
	issued  atomic.Uint64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	statuses map[string]uint64
}

// New は新しいClientを作成する
// ワーカープールは Start のたびに作成し、Stop で停止する
func New(config Config) (*Client, error) {
	if config.Addr == "" {
		return nil, errors.New("loadgen: address is required")
	}
	if config.Workers < 1 {
		return nil, fmt.Errorf("create loadgen pool: %w", worker.ErrZeroSize)
	}
	if len(config.Paths) == 0 {
		config.Paths = []string{"/"}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Client{
		config:   config,
		runID:    uuid.NewString(),
		log:      logger.Default,
		metrics:  metrics.New(),
		statuses: make(map[string]uint64),
	}, nil
}

// SetLogger はロガーを設定する
func (c *Client) SetLogger(l *logger.Logger) {
	c.log = l
}

// RunID は実行IDを返す
func (c *Client) RunID() string {
	return c.runID
}

// Start は負荷生成を開始する
// 実行中に呼んだ場合は何もしない
func (c *Client) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return nil // Already running
	}

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		Size:          c.config.Workers,
		QueueCapacity: c.config.Workers * QueueFactor,
		Logger:        logger.Discard(),
	})
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("create loadgen pool: %w", err)
	}

	c.pool = pool
	c.issued.Store(0)
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.log.Info("loadgen", "Run %s started (target: %s, workers: %d)",
		c.runID, c.config.Addr, c.pool.Size())

	c.wg.Add(1)
	go c.generateRequests()
	return nil
}

// generateRequests はリクエストを生成し続ける
func (c *Client) generateRequests() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		n := c.issued.Add(1)
		if limit := c.config.RequestsLimit; limit > 0 && n > limit {
			return
		}

		path := c.config.Paths[(n-1)%uint64(len(c.config.Paths))]
		if err := c.pool.Submit(c.createJob(path)); err != nil {
			return
		}
	}
}

// createJob は1リクエスト分のジョブを作成する
func (c *Client) createJob(path string) worker.Job {
	return func() {
		start := time.Now()
		status, err := c.request(path)
		latency := time.Since(start)

		if err != nil {
			c.metrics.RecordFailure(latency)
			c.log.Debug("loadgen", "GET %s failed: %v", path, err)
			return
		}
		c.metrics.RecordSuccess(latency)

		c.mu.Lock()
		c.statuses[status]++
		c.mu.Unlock()
	}
}

// request はリクエスト行を送り、ステータス行を返す
func (c *Client) request(path string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.config.Addr, c.config.Timeout)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.1\r\n\r\n", path); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read status line: %w", err)
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return strings.TrimRight(status, "\r\n"), nil
}

// Stop は負荷生成を停止し、投入済みのリクエストの完了を待つ
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return // Not running
	}

	c.cancel()
	c.wg.Wait()
	c.pool.Shutdown()
	c.pool = nil

	c.log.Info("loadgen", "Run %s stopped (%d requests)", c.runID, c.metrics.TotalRequests())
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Statuses はステータス行ごとの応答数を返す
func (c *Client) Statuses() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]uint64, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	return out
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// RunFor は指定時間だけ負荷生成を実行する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) (*metrics.Snapshot, error) {
	c.config.RequestsLimit = 0
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot, nil
}

// RunRequests は指定数のリクエストを実行する
// count が 0 の場合は何も送らずに現在のスナップショットを返す
func (c *Client) RunRequests(ctx context.Context, count uint64) (*metrics.Snapshot, error) {
	if count == 0 {
		snapshot := c.metrics.Snapshot()
		return &snapshot, nil
	}

	c.config.RequestsLimit = count
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	c.wg.Wait()
	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot, nil
}
