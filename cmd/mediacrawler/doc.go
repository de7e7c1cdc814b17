// Package main hosts the mediacrawler entrypoint.
//
// Architecture overview:
//   - Frontier & queue: seeds (from config, arguments, POST /v1/seeds, or a Pub/Sub subscription) enter
//     internal/frontier, which normalizes URLs, checks the scope policy and the Badger-backed seen-set, and feeds a
//     bounded in-memory queue. Items received from the bus bypass the seen-set.
//   - Worker pool: internal/dispatcher fans the queue out to a fixed pool of workers. Each worker waits on the per-host
//     rate limiter, fetches through the Colly-based fetcher (with robots.txt enforcement), then runs its extractors in
//     order: HTTP header links, HTML links, and the media session.
//   - Media discovery: for every HTML page the media session runs yt-dlp into a per-worker scratch buffer, streams the
//     JSON for "url" and "webpage_url" values, and adds one embed outlink per video annotated with its position in the
//     page. Captured media are written to extractorYoutubeDL.log; the tool output is archived as a metadata record
//     concurrent to the page's response record.
//   - Archive: records go to rotating WARC files on local disk; finished files are uploaded to the configured
//     BlobStore (memory/local/GCS).
//   - Progress & index: crawl, fetch, discovery and capture events are batched by the progress Hub and delivered to
//     the zap log, Prometheus, the capture index (Postgres or memory) and optionally a Pub/Sub topic.
//   - Configuration & plumbing: Viper populates config from a file and MEDIACRAWLER_* environment variables (a .env file
//     is loaded first); zap provides structured logging; the ops server exposes /healthz, /readyz, /metrics and the
//     capture index.
//
// Operational notes:
//   - Shutdown: SIGINT/SIGTERM cancel the crawl context; workers finish their current item, the progress Hub flushes,
//     and the last WARC file is closed and uploaded.
//   - Resume: set state.seen_dir and state.resume to keep the seen-set across runs.
//   - Run locally: go run ./cmd/mediacrawler crawl --config config.yaml https://example.com/
//   - Try discovery on one page: go run ./cmd/mediacrawler discover --dump https://example.com/watch
package main
