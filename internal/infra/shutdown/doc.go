// Package shutdown coordinates graceful process termination.
//
// WithSignals derives a context cancelled on SIGINT or SIGTERM. Once it is
// done, Handler.Run executes the registered hooks in reverse registration
// order under a shared deadline:
//
//	ctx, stop := shutdown.WithSignals(context.Background())
//	defer stop()
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("http", srv.Shutdown)
//	<-ctx.Done()
//	err := h.Run()
package shutdown
