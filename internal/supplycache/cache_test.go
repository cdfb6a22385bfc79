package supplycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coefbot/internal/eventbus"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

type fakeSource struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	snap  supply.Snapshot
}

func (f *fakeSource) Fetch(ctx context.Context) (supply.Snapshot, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return supply.Snapshot{}, err
	}
	if f.err != nil {
		return supply.Snapshot{}, f.err
	}
	return f.snap, nil
}

func newCache(t *testing.T, src Source, bus eventbus.Bus) (*Cache, *storage.DB) {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db.KV(), src, logx.Nop(), bus), db
}

func oneEntry() supply.Snapshot {
	return supply.Snapshot{Entries: []supply.Entry{{
		Date: time.Date(2024, 9, 5, 0, 0, 0, 0, time.UTC), Coefficient: 5,
		WarehouseID: 507, WarehouseName: "Коледино", BoxTypeName: "Короба",
	}}}
}

func TestSupplyDataFetchesOnceThenHits(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snap: oneEntry()}
	c, _ := newCache(t, src, nil)
	ctx := context.Background()

	first := c.SupplyData(ctx)
	second := c.SupplyData(ctx)
	if src.calls.Load() != 1 {
		t.Fatalf("fetches = %d, want 1", src.calls.Load())
	}
	if first.Len() != 1 || second.Len() != 1 || second.Entries[0].WarehouseID != 507 {
		t.Fatalf("snapshots differ: %+v / %+v", first, second)
	}
	if second.FetchedAt.IsZero() {
		t.Fatalf("FetchedAt not stamped")
	}
}

func TestSupplyDataSingleFlight(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snap: oneEntry(), delay: 50 * time.Millisecond}
	c, _ := newCache(t, src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.SupplyData(context.Background()); got.Len() != 1 {
				t.Errorf("concurrent caller got %d entries", got.Len())
			}
		}()
	}
	wg.Wait()
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("concurrent misses caused %d fetches", n)
	}
}

func TestCancelledCallerDoesNotSpoilSharedFetch(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snap: oneEntry(), delay: 100 * time.Millisecond}
	c, _ := newCache(t, src, nil)

	short := make(chan supply.Snapshot, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		short <- c.SupplyData(ctx)
	}()
	time.Sleep(5 * time.Millisecond)

	if got := c.SupplyData(context.Background()); got.Len() != 1 {
		t.Fatalf("live caller got %d entries", got.Len())
	}
	if got := <-short; !got.IsEmpty() {
		t.Fatalf("timed out caller got %+v", got)
	}
	if _, found, _ := c.Peek(context.Background()); !found {
		t.Fatalf("shared fetch was not stored")
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("fetches = %d, want 1", n)
	}
}

func TestRefreshAlwaysFetches(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snap: oneEntry(), delay: 30 * time.Millisecond}
	c, _ := newCache(t, src, nil)

	var tick atomic.Int64
	base := time.Date(2024, 9, 5, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }

	ctx := context.Background()
	stale := c.Refresh(ctx)

	var wg sync.WaitGroup
	fresh := make([]supply.Snapshot, 4)
	for i := range fresh {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				c.SupplyData(ctx)
			}
			fresh[i] = c.Refresh(ctx)
		}()
	}
	wg.Wait()

	for i, got := range fresh {
		if !got.FetchedAt.After(stale.FetchedAt) {
			t.Fatalf("Refresh #%d returned the stored snapshot (%v)", i, got.FetchedAt)
		}
	}
}

func TestFailuresDegradeToEmpty(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	src := &fakeSource{err: errors.New("dns")}
	c, _ := newCache(t, src, bus)
	ctx := context.Background()

	if got := c.SupplyData(ctx); !got.IsEmpty() {
		t.Fatalf("SupplyData on failure = %+v", got)
	}
	if _, found, _ := c.Peek(ctx); found {
		t.Fatalf("failed fetch stored a snapshot")
	}
	select {
	case e := <-events:
		if e.Type != eventbus.SnapshotFailed {
			t.Fatalf("event = %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no failure event")
	}
}

func TestRefreshKeepsPreviousOnFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snap: oneEntry()}
	c, _ := newCache(t, src, nil)
	ctx := context.Background()

	if got := c.Refresh(ctx); got.Len() != 1 {
		t.Fatalf("Refresh() = %+v", got)
	}
	src.err = errors.New("timeout")
	if got := c.Refresh(ctx); !got.IsEmpty() {
		t.Fatalf("failed Refresh returned %+v", got)
	}
	snap, found, err := c.Peek(ctx)
	if err != nil || !found || snap.Len() != 1 {
		t.Fatalf("previous snapshot lost: %+v %v %v", snap, found, err)
	}
	if got := c.SupplyData(ctx); got.Len() != 1 || src.calls.Load() != 2 {
		t.Fatalf("SupplyData after failed refresh = %+v (calls %d)", got, src.calls.Load())
	}
}

func TestThresholdAndClear(t *testing.T) {
	t.Parallel()

	c, _ := newCache(t, &fakeSource{snap: oneEntry()}, nil)
	ctx := context.Background()

	if _, ok, err := c.Threshold(ctx); ok || err != nil {
		t.Fatalf("Threshold before set = %v, %v", ok, err)
	}
	if err := c.SetThreshold(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := c.Threshold(ctx); !ok || v != 3 {
		t.Fatalf("Threshold = %d, %v", v, ok)
	}

	c.Refresh(ctx)
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Peek(ctx); found {
		t.Fatalf("snapshot survived Clear")
	}
	if v, ok, _ := c.Threshold(ctx); !ok || v != 3 {
		t.Fatalf("Clear removed the threshold")
	}
}
