package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"poolserve/internal/events"
	"poolserve/internal/faults"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/server"
	"poolserve/internal/worker"
)

// DefaultNamespace はPrometheusメトリクスの名前空間
const DefaultNamespace = "poolserve"

// Options はAPIサーバーの依存関係
type Options struct {
	Addr      string
	Pool      *worker.Pool
	Server    *server.Server  // nil可
	Faults    *faults.Injector // nil可
	Events    *events.Bus      // nil可
	Logger    *logger.Logger   // nilで logger.Default
	Namespace string           // 空で DefaultNamespace
}

// Server は管理用APIサーバー
type Server struct {
	opts     Options
	log      *logger.Logger
	registry *prometheus.Registry
	router   chi.Router

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(opts Options) *Server {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(opts.Pool.Metrics(), opts.Namespace),
		collectors.NewGoCollector(),
	)

	s := &Server{
		opts:      opts,
		log:       log,
		registry:  registry,
		wsClients: make(map[*websocket.Conn]bool),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/workers", s.handleWorkers)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/faults", s.handleFaults)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return r
}

// Handler はルーターを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// バックグラウンドでイベントとステータスを配信
	go s.forwardEvents(ctx)
	go s.broadcastLoop(ctx)

	s.log.Info("api", "API Server starting on http://%s", s.opts.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	PoolSize     int    `json:"pool_size"`
	LiveWorkers  int    `json:"live_workers"`
	Pending      int    `json:"pending"`
	Closed       bool   `json:"closed"`
	ServerStatus string `json:"server_status,omitempty"`
	Accepted     uint64 `json:"accepted"`
	Served       uint64 `json:"served"`
	ConnFailures uint64 `json:"conn_failures"`
}

func (s *Server) status() StatusResponse {
	p := s.opts.Pool
	resp := StatusResponse{
		PoolSize:    p.Size(),
		LiveWorkers: p.Live(),
		Pending:     p.Pending(),
		Closed:      p.Closed(),
	}
	if srv := s.opts.Server; srv != nil {
		resp.ServerStatus = srv.Status().String()
		resp.Accepted = srv.Accepted()
		resp.Served = srv.Served()
		resp.ConnFailures = srv.ConnFailures()
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.status())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.opts.Pool.Workers())
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	Submitted       uint64  `json:"submitted"`
	Rejected        uint64  `json:"rejected"`
	InFlight        int64   `json:"in_flight"`
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	RPS             float64 `json:"rps"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	P99LatencyMs    float64 `json:"p99_latency_ms"`
	ErrorRate       float64 `json:"error_rate"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Pool.Metrics().Snapshot()
	s.writeJSON(w, MetricsResponse{
		Submitted:       snap.Submitted,
		Rejected:        snap.Rejected,
		InFlight:        snap.InFlight,
		TotalRequests:   snap.TotalRequests,
		SuccessRequests: snap.SuccessRequests,
		FailedRequests:  snap.FailedRequests,
		RPS:             snap.RPS,
		AvgLatencyMs:    float64(snap.AverageLatency) / float64(time.Millisecond),
		P99LatencyMs:    float64(snap.P99Latency) / float64(time.Millisecond),
		ErrorRate:       snap.ErrorRate,
	})
}

func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	if s.opts.Faults == nil {
		http.Error(w, "Fault injection disabled", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.opts.Faults.Stats())
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents はイベントバスのイベントをWebSocketクライアントへ流す
func (s *Server) forwardEvents(ctx context.Context) {
	bus := s.opts.Events
	if bus == nil {
		return
	}
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": ev,
			})
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("api", "Failed to encode JSON: %v", err)
	}
}
