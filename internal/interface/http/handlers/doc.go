// Package handlers contains reusable HTTP building blocks: health checks and
// middleware.
//
// # Health Checks
//
// The aggregate store is registered as a required check and the Redis
// snapshot cache as an optional one:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("cache", handlers.NewPingCheck(cache))
//
// A failing optional check reports Healthy=false but keeps Ready=true.
//
// # Middleware
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", keys)
//	h := handlers.ChainHandler(api,
//	    handlers.NoCacheMiddleware,
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	)
//	h = auth.Middleware(h)
package handlers
