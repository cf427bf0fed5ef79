// Package httpserver runs the replica's HTTP surface.
//
// Server wraps http.Server: Run listens, serves until its context is done and
// then drains in-flight requests within the shutdown timeout. It returns nil
// after a clean shutdown, so it sits in an errgroup next to the storage
// monitor and the outbox dispatcher:
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Liveness, Readiness and HealthRoutes provide the probe endpoints; readiness
// takes named checks such as the storage gateway and channel healthchecks.
package httpserver
