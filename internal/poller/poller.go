// Package poller runs the two background loops: one keeps the snapshot
// fresh within the upstream quota, the other evaluates the tracking
// criteria and hands matches to a Sink.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"coefbot/internal/eventbus"
	"coefbot/internal/runtime/supervisor"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

const DefaultNotifyInterval = 12 * time.Second

var ErrRunning = errors.New("poller: already running")

type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Snapshots is the slice of supplycache.Cache the loops need.
type Snapshots interface {
	Refresh(ctx context.Context) supply.Snapshot
	SupplyData(ctx context.Context) supply.Snapshot
	Threshold(ctx context.Context) (int, bool, error)
}

// Sink receives each non-empty batch of matches.
type Sink interface {
	Deliver(ctx context.Context, matches []supply.Entry) error
}

// Tracked groups the three registries that make up the tracking criteria.
type Tracked struct {
	Warehouses storage.WarehouseRegistry
	BoxTypes   storage.BoxTypeRegistry
	Dates      storage.DateRegistry
}

type Config struct {
	// RefreshInterval is normally the fetcher's window/R.
	RefreshInterval    time.Duration
	NotifyInterval     time.Duration
	ExcludeUnavailable bool
}

// MatchEvent is published whenever the notify loop finds matches.
type MatchEvent struct {
	Count int `json:"count"`
}

type Coordinator struct {
	snaps   Snapshots
	tracked Tracked
	sink    Sink
	log     logx.Logger
	bus     eventbus.Bus

	refreshEvery atomic.Int64
	notifyEvery  atomic.Int64
	excludeUnav  atomic.Bool

	state atomic.Int32
	mu    sync.Mutex
	sup   *supervisor.Supervisor
}

func New(cfg Config, snaps Snapshots, tracked Tracked, sink Sink, log logx.Logger, bus eventbus.Bus) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{snaps: snaps, tracked: tracked, sink: sink, log: log.With(logx.Comp("poller")), bus: bus}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Second
	}
	c.refreshEvery.Store(int64(cfg.RefreshInterval))
	c.SetNotifyInterval(cfg.NotifyInterval)
	c.excludeUnav.Store(cfg.ExcludeUnavailable)
	return c
}

// SetNotifyInterval applies a new pause between notify iterations; the
// running loop picks it up after its current sleep.
func (c *Coordinator) SetNotifyInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultNotifyInterval
	}
	c.notifyEvery.Store(int64(d))
}

func (c *Coordinator) SetExcludeUnavailable(v bool) { c.excludeUnav.Store(v) }

func (c *Coordinator) State() State { return State(c.state.Load()) }

// Start launches both loops. It fails with ErrRunning unless stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return ErrRunning
	}
	c.sup = supervisor.New(ctx, supervisor.WithLogger(c.log))
	c.sup.GoRestart("poller.refresh", func(ctx context.Context) error {
		c.loop(ctx, "refresh", &c.refreshEvery, c.refreshOnce)
		return nil
	})
	c.sup.GoRestart("poller.notify", func(ctx context.Context) error {
		c.loop(ctx, "notify", &c.notifyEvery, c.notifyOnce)
		return nil
	})
	c.log.Info("poller started",
		logx.Duration("refresh_every", time.Duration(c.refreshEvery.Load())),
		logx.Duration("notify_every", time.Duration(c.notifyEvery.Load())),
	)
	return nil
}

// Stop cancels both loops and waits for them within ctx. Stopping a
// stopped coordinator is a no-op.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return nil
	}
	err := c.sup.Stop(ctx)
	c.sup = nil
	c.state.Store(int32(Stopped))
	c.log.Info("poller stopped")
	return err
}

func (c *Coordinator) loop(ctx context.Context, name string, every *atomic.Int64, once func(context.Context) error) {
	for ctx.Err() == nil {
		if err := c.safe(ctx, once); err != nil && ctx.Err() == nil {
			c.log.Warn("iteration failed", logx.String("loop", name), logx.Err(err))
		}
		t := time.NewTimer(time.Duration(every.Load()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// safe turns a panic inside one iteration into an error so the loop goes on.
func (c *Coordinator) safe(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			c.log.Error("iteration panicked", logx.Err(err), logx.Stack(string(debug.Stack())))
		}
	}()
	return fn(ctx)
}

func (c *Coordinator) refreshOnce(ctx context.Context) error {
	snap := c.snaps.Refresh(ctx)
	c.log.Trace("refresh done", logx.Int("entries", snap.Len()))
	return nil
}

func (c *Coordinator) notifyOnce(ctx context.Context) error {
	matches, err := c.CheckNow(ctx)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}
	eventbus.Publish(c.bus, eventbus.MatchesFound, MatchEvent{Count: len(matches)})
	if c.sink == nil {
		return nil
	}
	return c.sink.Deliver(ctx, matches)
}

// CheckNow evaluates the tracking criteria against the current snapshot.
func (c *Coordinator) CheckNow(ctx context.Context) ([]supply.Entry, error) {
	f, err := c.filter(ctx)
	if err != nil {
		return nil, err
	}
	if f.Threshold == nil {
		return nil, nil
	}
	return supply.Match(c.snaps.SupplyData(ctx), f), nil
}

// Matches is CheckNow with the tracked dates replaced by an explicit filter.
func (c *Coordinator) Matches(ctx context.Context, dates supply.DateFilter) ([]supply.Entry, error) {
	f, err := c.filter(ctx)
	if err != nil {
		return nil, err
	}
	if f.Threshold == nil {
		return nil, nil
	}
	f.Dates = dates
	return supply.Match(c.snaps.SupplyData(ctx), f), nil
}

func (c *Coordinator) filter(ctx context.Context) (supply.Filter, error) {
	f := supply.Filter{ExcludeUnavailable: c.excludeUnav.Load()}

	v, ok, err := c.snaps.Threshold(ctx)
	if err != nil {
		return f, fmt.Errorf("threshold: %w", err)
	}
	if ok {
		f.Threshold = &v
	}

	whs, err := c.tracked.Warehouses.All(ctx)
	if err != nil {
		return f, fmt.Errorf("warehouses: %w", err)
	}
	for _, w := range whs {
		f.WarehouseIDs = append(f.WarehouseIDs, w.ID)
	}
	if f.BoxTypes, err = c.tracked.BoxTypes.All(ctx); err != nil {
		return f, fmt.Errorf("box types: %w", err)
	}
	days, err := c.tracked.Dates.All(ctx)
	if err != nil {
		return f, fmt.Errorf("dates: %w", err)
	}
	f.Dates = supply.DatesList(days...)
	return f, nil
}
