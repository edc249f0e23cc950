// Package main hosts the ranking crawler service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /api/books (latest persisted ranking, crawling when none exists),
//     /api/refresh (always crawls), health, metrics, and the static front page.
//   - Service: internal/service picks the acquisition plans for the deployment mode (development: static fetch with
//     the full browser as fallback; production: constrained headless with the full browser as fallback, then the
//     static fetch). Concurrent requests share one in-flight crawl.
//   - Crawl: internal/crawl resolves the ranking list, fetches every detail page sequentially with a fixed pacing
//     delay, extracts name/author/weekly recommendation through strategy chains, and sorts the result.
//   - Persistence & fanout: the ranking is written to the configured store (local JSON file, memory, GCS object, or
//     a Postgres history table). A compact Pub/Sub notification is published when a topic is configured.
//   - Configuration & plumbing: godotenv loads .env, Viper populates config from env/files, zap provides structured
//     logging, and Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: RANKCRAWLER_SERVER_PORT or PORT, RANKCRAWLER_DEPLOYMENT_MODE or NODE_ENV,
//     RANKCRAWLER_STORAGE_BACKEND, RANKCRAWLER_MECHANISMS_BROWSER_EXEC_PATH, pubsub project/topic.
//   - Serve: go run ./cmd/rankcrawler -config config.yaml
//   - One-shot crawl: go run ./cmd/rankcrawler -once
package main
