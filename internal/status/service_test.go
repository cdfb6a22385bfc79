package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coefbot/internal/notifier"
	"coefbot/internal/runtime/supervisor"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

var day = time.Date(2024, 9, 5, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	pingErr   error
	snap      supply.Snapshot
	found     bool
	gotFilter supply.DateFilter
}

func (f *fakeSource) PollerState() string             { return "running" }
func (f *fakeSource) Ping(context.Context) error      { return f.pingErr }
func (f *fakeSource) History() []notifier.HistoryItem { return nil }

func (f *fakeSource) Peek(context.Context) (supply.Snapshot, bool, error) {
	return f.snap, f.found, nil
}

func (f *fakeSource) CheckNow(context.Context) ([]supply.Entry, error) {
	return f.snap.Entries[:1], nil
}

func (f *fakeSource) Matches(_ context.Context, dates supply.DateFilter) ([]supply.Entry, error) {
	f.gotFilter = dates
	var out []supply.Entry
	for _, e := range f.snap.Entries {
		if dates.Pass(e.Date) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newSource() *fakeSource {
	return &fakeSource{found: true, snap: supply.Snapshot{
		FetchedAt: day,
		Entries: []supply.Entry{
			{Date: day, Coefficient: 5, WarehouseID: 507, WarehouseName: "Коледино", BoxTypeName: "Короба"},
			{Date: day.AddDate(0, 0, 3), Coefficient: 1, WarehouseID: 117986, WarehouseName: "Казань", BoxTypeName: "Монопаллеты"},
		},
	}}
}

func get(t *testing.T, h http.Handler, path string, dst any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if dst != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
			t.Fatalf("%s: bad json %q: %v", path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	t.Parallel()

	src := newSource()
	h := New(Config{}, src, logx.Nop()).Handler()

	var body healthView
	if code := get(t, h, "/healthz", &body); code != http.StatusOK || body.Poller != "running" || body.Tasks != nil {
		t.Fatalf("healthz = %d %+v", code, body)
	}

	src.pingErr = errors.New("database is locked")
	if code := get(t, h, "/healthz", &body); code != http.StatusServiceUnavailable || body.Status != "degraded" {
		t.Fatalf("degraded healthz = %d %+v", code, body)
	}
}

func TestHealthReportsSupervisorTasks(t *testing.T) {
	t.Parallel()

	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	})
	sup.Go0("poller.refresh", func(ctx context.Context) { <-ctx.Done() })

	svc := New(Config{}, newSource(), logx.Nop())
	svc.SetRuntime(sup)
	h := svc.Handler()

	var body healthView
	deadline := time.Now().Add(2 * time.Second)
	for {
		if code := get(t, h, "/healthz", &body); code != http.StatusOK {
			t.Fatalf("healthz code = %d", code)
		}
		if body.Tasks != nil && body.Tasks.Active == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("healthz tasks = %+v", body.Tasks)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if body.Tasks.Started != 1 || len(body.Workers) != 1 || body.Workers[0].Name != "poller.refresh" {
		t.Fatalf("healthz runtime = %+v %+v", body.Tasks, body.Workers)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	h := New(Config{}, newSource(), logx.Nop()).Handler()
	var v snapshotView
	if code := get(t, h, "/snapshot", &v); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if !v.Present || v.Entries != 2 || v.Warehouses != 2 || len(v.BoxTypes) != 2 {
		t.Fatalf("snapshot = %+v", v)
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	src := newSource()
	h := New(Config{}, src, logx.Nop()).Handler()

	var v matchesView
	if code := get(t, h, "/matches", &v); code != http.StatusOK || v.Count != 1 || v.Lines[0] != "Коледино Короба 5 2024-09-05" {
		t.Fatalf("tracked matches = %d %+v", code, v)
	}

	if code := get(t, h, "/matches?from=2024-09-08&to=2024-09-06", &v); code != http.StatusOK {
		t.Fatalf("range code = %d", code)
	}
	if v.Count != 1 || v.Entries[0].WarehouseID != 117986 || src.gotFilter.Kind != supply.DatesInRange {
		t.Fatalf("range matches = %+v", v)
	}

	if code := get(t, h, "/matches?from=2024-09-08", nil); code != http.StatusBadRequest {
		t.Fatalf("half range code = %d", code)
	}
	if code := get(t, h, "/matches?from=tomorrow&to=2024-09-08", nil); code != http.StatusBadRequest {
		t.Fatalf("bad date code = %d", code)
	}
}

func TestNotificationsEmptyList(t *testing.T) {
	t.Parallel()

	h := New(Config{}, newSource(), logx.Nop()).Handler()
	var items []notifier.HistoryItem
	if code := get(t, h, "/notifications", &items); code != http.StatusOK || items == nil || len(items) != 0 {
		t.Fatalf("notifications = %d %v", code, items)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	for addr, want := range map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8089":   false,
		":8089":          false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func TestStartStopDisabled(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, newSource(), logx.Nop())
	s.Start(context.Background())
	s.Stop(context.Background())
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	off := New(Config{}, newSource(), logx.Nop()).Handler()
	if code := get(t, off, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof disabled: status = %d", code)
	}
	on := New(Config{Pprof: true}, newSource(), logx.Nop()).Handler()
	if code := get(t, on, "/debug/pprof/", nil); code != http.StatusOK {
		t.Fatalf("pprof enabled: status = %d", code)
	}
}
