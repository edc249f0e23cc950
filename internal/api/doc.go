// Package api hosts the HTTP server, middleware, and handlers of the ranking
// service. Notable routes:
//   - GET /api/books returns the latest persisted ranking, crawling when none exists.
//   - GET /api/refresh always runs a crawl and returns its result and count.
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET / serves the static front page from the configured directory.
package api
