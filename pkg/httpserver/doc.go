// Package httpserver runs an http.Handler for the lifetime of a context.
//
// Run listens, serves and, once ctx is canceled, shuts down gracefully within
// the configured shutdown timeout. It does not install signal handlers; the
// caller derives ctx from signal.NotifyContext and usually runs the server in
// an errgroup next to background workers:
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Start and shutdown failures are joined with ErrStart and ErrShutdown.
package httpserver
