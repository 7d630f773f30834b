// Package loadgen provides a load generator for a running poolserve server.
//
// A Client issues request lines over fresh TCP connections from its own
// worker pool and records client-side latency and failures.
//
// # Basic Usage
//
//	c, err := loadgen.New(loadgen.Config{Addr: "127.0.0.1:7878", Workers: 8, Paths: []string{"/", "/sleep"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	snapshot := c.RunRequests(ctx, 100)
//	fmt.Printf("ok=%d failed=%d p99=%v\n", snapshot.SuccessRequests, snapshot.FailedRequests, snapshot.P99Latency)
//
// A Client is single-use: once stopped, its pool is shut down.
package loadgen
