// Package main hosts the review notifier entrypoint.
//
// Architecture overview:
//   - Extraction: internal/browser launches Chrome through chromedp (one process per operation, capped by
//     browser.max_browsers), accepts the cookie consent once per browser and hands out tabs that are always closed.
//     internal/extract drives the review list and profile pages with bounded polling waits and stores a screenshot
//     to the snapshot BlobStore (memory/local/GCS) whenever a page protocol fails hard.
//   - Synchronization: internal/syncer caches the latest review per user in the repository (Postgres or memory) and
//     re-extracts it once it is older than sync.review_age_limit_hours. Only a review that differs from the cached
//     one counts as new; a first observation never does.
//   - Sweeps: internal/sweep walks every followed user with a stale cache one at a time, paced by
//     sweep.user_interval, on a robfig/cron schedule. A Redis SETNX lock keeps instances from sweeping together.
//     New reviews are fanned out by internal/notify and published as JSON events to Pub/Sub when a topic is set.
//   - Delivery: internal/notify verifies each follower's webhook, recreates it when invalid, abandons it when the
//     bot lacks permission, and posts the review as an embed through the Discord REST client in internal/discord.
//     One follower's failure never affects another.
//   - Plumbing: Viper loads config from file and NOTIFIER_* env vars; zap provides structured logging; Prometheus
//     metrics are exported on /metrics of the chi admin API next to health checks and a manual sweep trigger.
//
// Quick checklist:
//   - Configure env vars: NOTIFIER_NOTIFY_DISCORD_TOKEN, NOTIFIER_DATABASE_DSN (memory when empty),
//     NOTIFIER_SWEEP_LOCK_REDIS_ADDR for multi-instance deployments, NOTIFIER_BROWSER_EXEC_PATH when Chrome is not
//     on PATH, snapshots (NOTIFIER_SNAPSHOTS_*) and events (NOTIFIER_EVENTS_*).
//   - Run locally: go run ./cmd/notifier serve --config config.yaml
//   - One-off operations: follow, unfollow, followed, lookup, latest, sweep, migrate.
package main
