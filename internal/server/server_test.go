package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"poolserve/internal/events"
	"poolserve/internal/httpd"
	"poolserve/internal/logger"
	"poolserve/internal/worker"
)

// inlineSubmitter はジョブを別goroutineで即実行する
type inlineSubmitter struct {
	mu        sync.Mutex
	submitted int
	err       error
	wg        sync.WaitGroup
}

func (s *inlineSubmitter) Submit(job worker.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.submitted++
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job()
	}()
	return nil
}

type countingHandler struct {
	served atomic.Int32
}

func (h *countingHandler) ServeConn(conn net.Conn) error {
	defer conn.Close()
	h.served.Add(1)
	_, err := conn.Write([]byte("ok"))
	return err
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func dial(t *testing.T, addr net.Addr) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Errorf("dial: %v", err)
		return ""
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	data, _ := io.ReadAll(conn)
	return string(data)
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStopped, "stopped"},
		{StatusRunning, "running"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestServeMaxConnections(t *testing.T) {
	sub := &inlineSubmitter{}
	h := &countingHandler{}
	s := New(sub, h, Config{MaxConnections: 3})
	s.SetLogger(logger.Discard())

	ln := listen(t)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln)
	}()

	for range 3 {
		if got := dial(t, ln.Addr()); got != "ok" {
			t.Errorf("expected ok, got %q", got)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after MaxConnections")
	}

	sub.wg.Wait()
	if s.Accepted() != 3 {
		t.Errorf("expected 3 accepted, got %d", s.Accepted())
	}
	if h.served.Load() != 3 {
		t.Errorf("expected 3 served, got %d", h.served.Load())
	}
	if s.Status() != StatusStopped {
		t.Errorf("expected stopped after Serve, got %v", s.Status())
	}
}

func TestServeContextCancel(t *testing.T) {
	s := New(&inlineSubmitter{}, &countingHandler{}, Config{})
	s.SetLogger(logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	ln := listen(t)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, ln)
	}()

	deadline := time.Now().Add(time.Second)
	for s.Status() != StatusRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Status() != StatusRunning {
		t.Fatal("server did not reach running state")
	}
	if s.Addr() == nil {
		t.Error("expected listen address while running")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeSubmitFailure(t *testing.T) {
	sub := &inlineSubmitter{err: worker.ErrPoolClosed}
	s := New(sub, &countingHandler{}, Config{})
	s.SetLogger(logger.Discard())

	ln := listen(t)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln)
	}()

	// 投入に失敗した接続はサーバー側で閉じられる
	if got := dial(t, ln.Addr()); got != "" {
		t.Errorf("expected closed connection, got %q", got)
	}

	select {
	case err := <-done:
		if !errors.Is(err, worker.ErrPoolClosed) {
			t.Errorf("expected ErrPoolClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after submit failure")
	}
}

func TestServeAlreadyRunning(t *testing.T) {
	s := New(&inlineSubmitter{}, &countingHandler{}, Config{})
	s.SetLogger(logger.Discard())
	s.status.Store(int32(StatusRunning))

	if err := s.Serve(context.Background(), listen(t)); err == nil {
		t.Error("expected error when already running")
	}
}

func TestServeEventsAndWrapper(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.Subscribe()

	var wrapped atomic.Int32
	s := New(&inlineSubmitter{}, &countingHandler{}, Config{MaxConnections: 1})
	s.SetLogger(logger.Discard())
	s.SetEventBus(bus)
	s.SetJobWrapper(func(job worker.Job) worker.Job {
		wrapped.Add(1)
		return job
	})

	ln := listen(t)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln)
	}()
	dial(t, ln.Addr())
	<-done

	select {
	case ev := <-ch:
		if ev.Type != events.EventConnAccepted {
			t.Errorf("expected conn_accepted, got %s", ev.Type)
		}
		if len(ev.Data.ConnID) != 36 {
			t.Errorf("expected uuid connection id, got %q", ev.Data.ConnID)
		}
	case <-time.After(time.Second):
		t.Fatal("no conn_accepted event")
	}
	if wrapped.Load() != 1 {
		t.Errorf("expected wrapper to be applied once, got %d", wrapped.Load())
	}
}

// TestServeWithPool は実際のプールとハンドラで接続を処理する
func TestServeWithPool(t *testing.T) {
	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{Size: 4, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewPoolWithConfig: %v", err)
	}

	h := &httpd.Handler{DocRoot: fstest.MapFS{
		httpd.PageHello:    {Data: []byte("hello")},
		httpd.PageNotFound: {Data: []byte("missing")},
	}}

	const conns = 10
	s := New(pool, h, Config{MaxConnections: conns})
	s.SetLogger(logger.Discard())

	ln := listen(t)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln)
	}()

	var wg sync.WaitGroup
	responses := make([]string, conns)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = dial(t, ln.Addr())
		}(i)
	}
	wg.Wait()

	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	pool.Shutdown()

	for i, resp := range responses {
		if !strings.HasPrefix(resp, httpd.StatusOK) || !strings.HasSuffix(resp, "hello") {
			t.Errorf("response %d: unexpected %q", i, resp)
		}
	}
	if done := pool.Metrics().SuccessRequests(); done != conns {
		t.Errorf("expected %d completed jobs, got %d", conns, done)
	}
	if s.Served() != conns || s.ConnFailures() != 0 {
		t.Errorf("expected %d served and 0 failed connections, got %d/%d", conns, s.Served(), s.ConnFailures())
	}
}

// tempError は一時的な Accept エラー（EMFILE 相当）
type tempError struct{}

func (tempError) Error() string   { return "too many open files" }
func (tempError) Timeout() bool   { return false }
func (tempError) Temporary() bool { return true }

type acceptResult struct {
	conn net.Conn
	err  error
}

// scriptedListener は決められた順に Accept の結果を返し、尽きたら閉じる
type scriptedListener struct {
	mu      sync.Mutex
	results []acceptResult
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.results) == 0 {
		return nil, net.ErrClosed
	}
	r := l.results[0]
	l.results = l.results[1:]
	return r.conn, r.err
}

func (l *scriptedListener) Close() error   { return nil }
func (l *scriptedListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestServeRetriesTemporaryAcceptErrors(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()

	ln := &scriptedListener{results: []acceptResult{
		{err: tempError{}},
		{err: tempError{}},
		{conn: conn},
	}}

	sub := &inlineSubmitter{}
	h := &countingHandler{}
	s := New(sub, h, Config{})
	s.SetLogger(logger.Discard())

	go func() { _, _ = io.ReadAll(client) }()

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected temporary errors to be retried, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	sub.wg.Wait()
	if s.Accepted() != 1 {
		t.Errorf("expected 1 accepted connection, got %d", s.Accepted())
	}
	if h.served.Load() != 1 {
		t.Errorf("expected 1 served connection, got %d", h.served.Load())
	}
}

func TestServePermanentAcceptError(t *testing.T) {
	ln := &scriptedListener{results: []acceptResult{{err: errors.New("listener broken")}}}
	s := New(&inlineSubmitter{}, &countingHandler{}, Config{})
	s.SetLogger(logger.Discard())

	if err := s.Serve(context.Background(), ln); err == nil {
		t.Error("expected permanent accept error to end Serve")
	}
}

func TestNextAcceptDelay(t *testing.T) {
	d := nextAcceptDelay(0)
	if d != minAcceptDelay {
		t.Errorf("expected first delay %v, got %v", minAcceptDelay, d)
	}
	for range 20 {
		d = nextAcceptDelay(d)
	}
	if d != maxAcceptDelay {
		t.Errorf("expected delay capped at %v, got %v", maxAcceptDelay, d)
	}
}

type failingHandler struct{}

func (failingHandler) ServeConn(conn net.Conn) error {
	conn.Close()
	return errors.New("read page hello.html: file does not exist")
}

func TestServeCountsConnectionFailures(t *testing.T) {
	sub := &inlineSubmitter{}
	s := New(sub, failingHandler{}, Config{MaxConnections: 2})
	s.SetLogger(logger.Discard())

	ln := listen(t)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln)
	}()
	dial(t, ln.Addr())
	dial(t, ln.Addr())
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	sub.wg.Wait()

	if s.ConnFailures() != 2 {
		t.Errorf("expected 2 connection failures, got %d", s.ConnFailures())
	}
	if s.Served() != 0 {
		t.Errorf("expected 0 served connections, got %d", s.Served())
	}
}
