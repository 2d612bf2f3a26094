// Package httpserver exposes the execution service as a JSON API.
//
// Routes live under /api:
//
//	GET  /api/languages  supported language identifiers
//	POST /api/execute    run {"language", "code"} and return the execution record
//	GET  /api/health     container runtime reachability
//
// When metrics are enabled the Prometheus handler is mounted on metrics.path
// and every route is instrumented.
package httpserver
