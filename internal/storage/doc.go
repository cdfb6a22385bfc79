// Package storage persists coefbot state in a single SQLite file: the
// key-value cache (latest snapshot, threshold, menu message ids), the three
// tracked-set registries and the notifier's dedup windows.
//
// Every mutation is one SQL statement, so concurrent callers never observe a
// half-applied change.
package storage
