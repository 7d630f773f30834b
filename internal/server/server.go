package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/worker"
)

// Submitter はジョブを受け付けるプール
type Submitter interface {
	Submit(job worker.Job) error
}

// ConnHandler は1接続を処理する
type ConnHandler interface {
	ServeConn(conn net.Conn) error
}

// Status はサーバーの状態を表す
type Status int32

const (
	StatusStopped Status = iota
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Config はサーバーの設定
type Config struct {
	MaxConnections int // 受け付ける接続数の上限（0で無制限）
}

// Server は接続ごとにジョブをプールへ投入するアクセプトループ
type Server struct {
	pool    Submitter
	handler ConnHandler
	config  Config

	log  *logger.Logger
	bus  *events.Bus
	wrap func(worker.Job) worker.Job

	status   atomic.Int32
	accepted atomic.Uint64
	served   atomic.Uint64
	failed   atomic.Uint64

	mu   sync.RWMutex
	addr net.Addr
}

// New は新しいサーバーを作成する
func New(pool Submitter, handler ConnHandler, config Config) *Server {
	return &Server{
		pool:    pool,
		handler: handler,
		config:  config,
		log:     logger.Default,
	}
}

// SetLogger はロガーを設定する
func (s *Server) SetLogger(l *logger.Logger) {
	s.log = l
}

// SetEventBus はイベントバスを設定する
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// SetJobWrapper は投入前に各ジョブを包む関数を設定する（障害注入用）
func (s *Server) SetJobWrapper(wrap func(worker.Job) worker.Job) {
	s.wrap = wrap
}

// Status は現在のステータスを返す
func (s *Server) Status() Status {
	return Status(s.status.Load())
}

// Accepted は受け付けた接続数を返す
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Served はハンドラが正常に処理し終えた接続数を返す
func (s *Server) Served() uint64 {
	return s.served.Load()
}

// ConnFailures はハンドラがエラーを返した接続数を返す
func (s *Server) ConnFailures() uint64 {
	return s.failed.Load()
}

// Addr は待ち受け中のアドレスを返す。未起動なら nil
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// ListenAndServe は addr で待ち受けて Serve を実行する
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ln から接続を受け付け、1接続につき1ジョブをプールへ投入する
//
// ctx の終了、MaxConnections 到達、投入失敗のいずれかで戻る。ln は戻る前に閉じる。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.status.CompareAndSwap(int32(StatusStopped), int32(StatusRunning)) {
		ln.Close()
		return errors.New("server is already running")
	}
	defer s.status.Store(int32(StatusStopped))

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()
	defer ln.Close()

	s.log.Info("server", "Listening on %s", ln.Addr())

	var tempDelay time.Duration
	for {
		if limit := s.config.MaxConnections; limit > 0 && s.accepted.Load() >= uint64(limit) {
			s.log.Info("server", "Shutting down server after processing %d requests", s.accepted.Load())
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("server", "Stopped accepting connections (%d accepted)", s.accepted.Load())
				return nil
			}
			if isTemporary(err) {
				tempDelay = nextAcceptDelay(tempDelay)
				s.log.Warn("server", "Accept error: %v; retrying in %v", err, tempDelay)
				select {
				case <-time.After(tempDelay):
				case <-ctx.Done():
				}
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		id := uuid.NewString()
		s.accepted.Add(1)
		s.bus.Publish(events.NewConnAcceptedEvent(id, conn.RemoteAddr().String()))

		job := s.connJob(id, conn)
		if s.wrap != nil {
			job = s.wrap(job)
		}
		if err := s.pool.Submit(job); err != nil {
			conn.Close()
			return fmt.Errorf("submit connection %s: %w", id, err)
		}
	}
}

// 一時的な Accept エラー（EMFILE など）の再試行間隔
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}

// isTemporary は err が再試行で回復しうるかを返す
func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

// connJob は1接続分の処理をジョブにする
func (s *Server) connJob(id string, conn net.Conn) worker.Job {
	return func() {
		tag := "conn-" + id[:8]
		start := time.Now()
		if err := s.handler.ServeConn(conn); err != nil {
			s.failed.Add(1)
			s.log.Warn(tag, "Connection from %s failed: %v", conn.RemoteAddr(), err)
			return
		}
		s.served.Add(1)
		s.log.Debug(tag, "Served %s in %v", conn.RemoteAddr(), time.Since(start))
	}
}
