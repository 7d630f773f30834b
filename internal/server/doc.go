// Package server provides the TCP accept loop in front of a worker pool.
//
// A Server accepts connections from a net.Listener and submits one job per
// connection to its pool. It does no concurrency control of its own; the
// pool's fixed worker count bounds how many connections are served at once.
//
// # Basic Usage
//
//	pool, err := worker.NewPool(4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Shutdown()
//
//	srv := server.New(pool, httpd.NewHandler("public", 10*time.Second), server.Config{})
//	if err := srv.ListenAndServe(ctx, "127.0.0.1:7878"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lifecycle
//
// Serve returns when the context is done, when MaxConnections connections
// have been accepted, or when a submission fails. It never waits for the
// submitted connections to finish; that is the pool's Shutdown.
package server
