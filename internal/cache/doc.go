// Package cache defines the disk-backed bucket store that persists response
// snapshots for the offline app shell. Buckets are version-tagged; at most one
// bucket matches the running version and all others are stale. The store
// exposes open/list/delete plus exact-match lookup with safe write semantics
// (temp file + rename). The shell lifecycle populates buckets at install time
// and the request interceptor reads them; nothing in this package refreshes
// an entry after it is written — invalidation happens only through a version
// bump that retires the whole bucket.
package cache
