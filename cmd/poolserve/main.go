// Package main is the entry point for poolserve.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"poolserve/internal/api"
	"poolserve/internal/config"
	"poolserve/internal/events"
	"poolserve/internal/faults"
	"poolserve/internal/httpd"
	"poolserve/internal/loadgen"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/server"
	"poolserve/internal/worker"
)

var (
	version = "dev"
)

// options はコマンドラインフラグの値
type options struct {
	configFile string
	addr       string
	workers    int
	queue      int
	maxConns   int
	docRoot    string
	sleep      time.Duration
	admin      bool
	adminAddr  string
	logLevel   string
	faults     bool
	loadgen    bool
	requests   uint64
	paths      string
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&opts.addr, "addr", "", "待ち受けアドレス (loadgen モードでは接続先)")
	flag.IntVar(&opts.workers, "workers", 0, "ワーカー数")
	flag.IntVar(&opts.queue, "queue", 0, "キュー上限 (0で無制限)")
	flag.IntVar(&opts.maxConns, "max-conns", 0, "この数の接続を受け付けたら終了 (0で無制限)")
	flag.StringVar(&opts.docRoot, "docroot", "", "hello.html と 404.html のあるディレクトリ")
	flag.DurationVar(&opts.sleep, "sleep", 0, "GET /sleep の遅延 (例: 10s)")
	flag.BoolVar(&opts.admin, "admin", false, "管理APIを有効化")
	flag.StringVar(&opts.adminAddr, "admin-addr", "", "管理APIのアドレス")
	flag.StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flag.BoolVar(&opts.faults, "faults", false, "障害注入を有効化")
	flag.BoolVar(&opts.loadgen, "loadgen", false, "負荷生成モードで起動")
	flag.Uint64Var(&opts.requests, "requests", 100, "loadgen モードのリクエスト数")
	flag.StringVar(&opts.paths, "paths", "/", "loadgen モードで送るパス (カンマ区切り)")
	showVersion := flag.Bool("version", false, "バージョンを表示")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `poolserve - Fixed-Size Worker Pool Server

Usage:
  poolserve [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # 4ワーカーで起動
  poolserve --workers 4

  # 10接続を処理したら終了
  poolserve --max-conns 10

  # 設定ファイルから起動し、管理APIを有効化
  poolserve --config poolserve.yaml --admin

  # 障害注入付きで起動
  poolserve --faults --log-level debug

  # 負荷生成
  poolserve --loadgen --addr 127.0.0.1:7878 --requests 500 --paths /,/sleep
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("poolserve version %s\n", version)
		return
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	rt, err := buildRuntime(opts, set)
	if err != nil {
		logger.Error("main", "設定エラー: %v", err)
		os.Exit(1)
	}
	logger.Default.SetLevel(rt.LogLevel)

	if opts.loadgen {
		if err := runLoadgen(rt, opts.requests, splitPaths(opts.paths)); err != nil {
			logger.Error("main", "負荷生成エラー: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := runServer(rt); err != nil {
		logger.Error("main", "サーバーエラー: %v", err)
		os.Exit(1)
	}
}

// buildRuntime は実行時設定を構築する
// 設定ファイル（なければデフォルト）に、明示的に指定されたフラグを上書きする
func buildRuntime(opts options, set map[string]bool) (config.Runtime, error) {
	rt := config.Default()

	if opts.configFile != "" {
		fileConfig, err := config.LoadFile(opts.configFile)
		if err != nil {
			return rt, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return rt, fmt.Errorf("設定検証エラー: %w", err)
		}
		rt, err = fileConfig.ToRuntime()
		if err != nil {
			return rt, fmt.Errorf("設定変換エラー: %w", err)
		}
	}

	// フラグが明示的に指定された場合のみオーバーライド
	if set["addr"] {
		rt.Addr = opts.addr
	}
	if set["workers"] {
		rt.Workers = opts.workers
	}
	if set["queue"] {
		rt.QueueCapacity = opts.queue
	}
	if set["max-conns"] {
		rt.MaxConnections = opts.maxConns
	}
	if set["docroot"] {
		rt.DocRoot = opts.docRoot
	}
	if set["sleep"] {
		rt.SleepDelay = opts.sleep
	}
	if set["admin"] {
		rt.AdminEnabled = opts.admin
	}
	if set["admin-addr"] {
		rt.AdminAddr = opts.adminAddr
	}
	if set["faults"] {
		rt.FaultsEnabled = opts.faults
	}
	if set["log-level"] {
		level, err := logger.ParseLevel(opts.logLevel)
		if err != nil {
			return rt, err
		}
		rt.LogLevel = level
	}

	if rt.QueueCapacity < 0 {
		return rt, fmt.Errorf("queue capacity must be non-negative, got %d", rt.QueueCapacity)
	}
	if rt.MaxConnections < 0 {
		return rt, fmt.Errorf("max connections must be non-negative, got %d", rt.MaxConnections)
	}

	return rt, nil
}

func splitPaths(s string) []string {
	var paths []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// signalContext は SIGINT/SIGTERM でキャンセルされる context を返す
func signalContext(msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Println()
			fmt.Println(msg)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// runServer はワーカープールとアクセプトループを起動する
func runServer(rt config.Runtime) error {
	fmt.Println("poolserve - Fixed-Size Worker Pool Server")
	fmt.Println("=========================================")
	fmt.Printf("Listening: %s\n", rt.Addr)
	fmt.Printf("Workers: %d, Queue: %s\n", rt.Workers, queueLabel(rt.QueueCapacity))
	fmt.Printf("Document root: %s, Sleep: %v\n", rt.DocRoot, rt.SleepDelay)
	if rt.MaxConnections > 0 {
		fmt.Printf("Max connections: %d\n", rt.MaxConnections)
	}
	fmt.Println("=========================================")
	fmt.Println()

	bus := events.NewBus()
	defer bus.Close()

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		Size:          rt.Workers,
		QueueCapacity: rt.QueueCapacity,
		Events:        bus,
	})
	if err != nil {
		return fmt.Errorf("ワーカープール作成エラー: %w", err)
	}

	srv := server.New(pool, httpd.NewHandler(rt.DocRoot, rt.SleepDelay), server.Config{
		MaxConnections: rt.MaxConnections,
	})
	srv.SetEventBus(bus)

	var inj *faults.Injector
	if rt.FaultsEnabled {
		fc := faults.Config{PanicRate: rt.PanicRate, DelayRate: rt.DelayRate, Delay: rt.FaultDelay}
		if err := fc.Validate(); err != nil {
			pool.Shutdown()
			return fmt.Errorf("障害注入設定エラー: %w", err)
		}
		inj = faults.New(fc)
		inj.SetEventBus(bus)
		srv.SetJobWrapper(inj.Wrap)
		logger.Warn("main", "Fault injection enabled (panic: %.0f%%, delay: %.0f%% x %v)",
			rt.PanicRate*100, rt.DelayRate*100, rt.FaultDelay)
	}

	ctx, cancel := signalContext("中断シグナルを受信、サーバーを終了中...")
	defer cancel()

	if rt.AdminEnabled {
		admin := api.NewServer(api.Options{
			Addr:   rt.AdminAddr,
			Pool:   pool,
			Server: srv,
			Faults: inj,
			Events: bus,
		})
		go func() {
			if err := admin.Start(ctx); err != nil {
				logger.Error("api", "API server error: %v", err)
			}
		}()
	}

	serveErr := srv.ListenAndServe(ctx, rt.Addr)

	// 受付済みの接続を処理し終えるまで待つ
	logger.Info("main", "Waiting for %d queued jobs and in-flight connections", pool.Pending())
	pool.Shutdown()

	fmt.Println(serveSummary(srv, pool.Metrics().Snapshot()))
	if inj != nil {
		fmt.Printf("Faults injected: %d\n", inj.Stats().TotalFaults)
	}

	return serveErr
}

// serveSummary は接続単位とジョブ単位の結果をまとめる
// ハンドラ内で失敗した接続はジョブとしては正常終了するため、別々に数える
func serveSummary(srv *server.Server, jobs metrics.Snapshot) string {
	return fmt.Sprintf("Served %d connections (%d ok, %d failed); jobs: %d run, %d aborted",
		srv.Accepted(), srv.Served(), srv.ConnFailures(),
		jobs.TotalRequests, jobs.FailedRequests)
}

func queueLabel(capacity int) string {
	if capacity <= 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", capacity)
}

// runLoadgen は指定アドレスのサーバーへ負荷をかける
func runLoadgen(rt config.Runtime, requests uint64, paths []string) error {
	if requests == 0 {
		return fmt.Errorf("requests must be at least 1")
	}
	client, err := loadgen.New(loadgen.Config{
		Addr:    rt.Addr,
		Workers: rt.Workers,
		Paths:   paths,
		Timeout: rt.SleepDelay + 5*time.Second,
	})
	if err != nil {
		return err
	}

	fmt.Println("poolserve - Load Generator")
	fmt.Println("==========================")
	fmt.Printf("Run: %s\n", client.RunID())
	fmt.Printf("Target: %s, Workers: %d, Requests: %d\n", rt.Addr, rt.Workers, requests)
	fmt.Printf("Paths: %s\n", strings.Join(paths, ", "))
	fmt.Println("==========================")
	fmt.Println()

	ctx, cancel := signalContext("中断シグナルを受信、負荷生成を終了中...")
	defer cancel()

	snap, err := client.RunRequests(ctx, requests)
	if err != nil {
		return err
	}

	fmt.Printf("Requests: %d (ok: %d, failed: %d, error rate: %.1f%%)\n",
		snap.TotalRequests, snap.SuccessRequests, snap.FailedRequests, snap.ErrorRate*100)
	fmt.Printf("Latency: avg %v, p99 %v\n", snap.AverageLatency, snap.P99Latency)
	fmt.Printf("Throughput: %.1f req/s over %v\n", snap.OverallRPS, snap.Elapsed.Round(time.Millisecond))

	statuses := client.Statuses()
	lines := make([]string, 0, len(statuses))
	for status := range statuses {
		lines = append(lines, status)
	}
	sort.Strings(lines)
	for _, status := range lines {
		fmt.Printf("  %-36s %d\n", status, statuses[status])
	}

	return nil
}
