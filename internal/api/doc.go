// Package api provides the admin HTTP endpoint for a running pool.
//
// Routes:
//
//	GET /api/status   pool size, live workers, pending jobs, server state
//	GET /api/workers  per-worker id and state
//	GET /api/metrics  JSON metrics snapshot
//	GET /api/faults   fault injection statistics (404 when disabled)
//	GET /metrics      Prometheus exposition
//	    /ws           WebSocket stream of pool events and periodic status
package api
