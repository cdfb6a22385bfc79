// Package supplycache keeps the single live feed snapshot and the user's
// coefficient threshold in the key-value store.
package supplycache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"coefbot/internal/eventbus"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

const (
	KeySnapshot  = "supply_data"
	KeyThreshold = "coefficient"
)

const (
	flightMiss    = "miss"
	flightRefresh = "refresh"

	// flightTimeout covers a rate-limiter wait plus the HTTP request.
	flightTimeout = 3 * time.Minute
)

// Source produces fresh snapshots; *upstream.Fetcher satisfies it.
type Source interface {
	Fetch(ctx context.Context) (supply.Snapshot, error)
}

// RefreshEvent is published after every refresh attempt.
type RefreshEvent struct {
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

type Cache struct {
	kv  storage.KV
	src Source
	log logx.Logger
	bus eventbus.Bus

	group singleflight.Group
	now   func() time.Time
}

func New(kv storage.KV, src Source, log logx.Logger, bus eventbus.Bus) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{kv: kv, src: src, log: log, bus: bus, now: time.Now}
}

// Peek reads the stored snapshot without touching upstream.
func (c *Cache) Peek(ctx context.Context) (supply.Snapshot, bool, error) {
	var snap supply.Snapshot
	found, err := c.kv.Get(ctx, KeySnapshot, &snap)
	if err != nil || !found {
		return supply.Snapshot{}, false, err
	}
	return snap, true, nil
}

// SupplyData returns the cached snapshot, fetching once on a miss.
// Concurrent misses share a single upstream request and join a refresh that
// is already running. Failures are logged and yield an empty snapshot.
func (c *Cache) SupplyData(ctx context.Context) supply.Snapshot {
	snap, found, err := c.Peek(ctx)
	if err != nil {
		c.log.Warn("snapshot read failed", logx.Err(err))
		return supply.Snapshot{}
	}
	if found {
		return snap
	}

	return c.shared(ctx, flightMiss, func(fctx context.Context) supply.Snapshot {
		// Another flight may have stored it between our read and now.
		if snap, found, err := c.Peek(fctx); err == nil && found {
			return snap
		}
		return c.shared(fctx, flightRefresh, c.fetchAndStore)
	})
}

// Refresh fetches unconditionally and overwrites the stored snapshot.
// On failure the previous snapshot stays in place and an empty one is returned.
func (c *Cache) Refresh(ctx context.Context) supply.Snapshot {
	return c.shared(ctx, flightRefresh, c.fetchAndStore)
}

// shared runs fn once per key for all concurrent callers. The flight is
// detached from any single caller's cancellation and bounded by
// flightTimeout; a caller whose ctx ends first gets an empty snapshot.
func (c *Cache) shared(ctx context.Context, key string, fn func(context.Context) supply.Snapshot) supply.Snapshot {
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return fn(fctx), nil
	})
	select {
	case res := <-ch:
		snap, _ := res.Val.(supply.Snapshot)
		return snap
	case <-ctx.Done():
		return supply.Snapshot{}
	}
}

func (c *Cache) fetchAndStore(ctx context.Context) supply.Snapshot {
	snap, err := c.src.Fetch(ctx)
	if err != nil {
		c.log.Warn("feed fetch failed", logx.Err(err))
		eventbus.Publish(c.bus, eventbus.SnapshotFailed, RefreshEvent{Error: err.Error()})
		return supply.Snapshot{}
	}
	snap.FetchedAt = c.now().UTC()
	if err := c.kv.Set(ctx, KeySnapshot, snap); err != nil {
		c.log.Error("snapshot write failed", logx.Err(err))
		eventbus.Publish(c.bus, eventbus.SnapshotFailed, RefreshEvent{Error: err.Error()})
		return supply.Snapshot{}
	}
	c.log.Debug("snapshot stored", logx.Int("entries", snap.Len()))
	eventbus.Publish(c.bus, eventbus.SnapshotRefreshed, RefreshEvent{Entries: snap.Len()})
	return snap
}

// Threshold reports the configured maximum coefficient, if any.
func (c *Cache) Threshold(ctx context.Context) (int, bool, error) {
	var v int
	found, err := c.kv.Get(ctx, KeyThreshold, &v)
	if err != nil || !found {
		return 0, false, err
	}
	return v, true, nil
}

func (c *Cache) SetThreshold(ctx context.Context, v int) error {
	return c.kv.Set(ctx, KeyThreshold, v)
}

// Clear removes the stored snapshot.
func (c *Cache) Clear(ctx context.Context) error {
	return c.kv.Delete(ctx, KeySnapshot)
}
