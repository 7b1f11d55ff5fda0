// Package cache defines the disk-backed artifact store. Every artifact is
// addressed by (prefix, relative path) and persisted as a pair of files under
// CacheDir: <prefix>/<path>.binary holds the payload and a sibling .meta file
// holds a small JSON record with the content type. Entries written by older
// deployments carry a plain-text .content_type sidecar instead; the store
// still reads that format but never writes it. The store performs no network
// I/O and no eviction — the cache is append-only and grows unbounded.
package cache
