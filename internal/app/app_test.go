package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coefbot/internal/config"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

const feed = `[
 {"date":"2024-09-05T00:00:00Z","coefficient":0,"warehouseID":507,"warehouseName":"Коледино","boxTypeName":"Короба","boxTypeID":2},
 {"date":"2024-09-05T00:00:00Z","coefficient":3,"warehouseID":117986,"warehouseName":"Казань","boxTypeName":"Короба","boxTypeID":2},
 {"date":"2024-09-06T00:00:00Z","coefficient":-1,"warehouseID":507,"warehouseName":"Коледино","boxTypeName":"Короба","boxTypeID":2}
]`

func TestMapLoggingNeedsAlertChat(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Logging.Telegram.Enabled = true
	if got := mapLogging(cfg); got.Alerts.Enabled {
		t.Fatalf("alerts enabled without group_log: %+v", got.Alerts)
	}

	cfg.Telegram.GroupLog = "-100123"
	got := mapLogging(cfg)
	if !got.Alerts.Enabled || got.Alerts.ChatID != -100123 {
		t.Fatalf("alerts = %+v", got.Alerts)
	}
}

func TestMapNotifier(t *testing.T) {
	t.Parallel()

	got, err := mapNotifier(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled || !got.PersistDedup {
		t.Fatalf("defaults = %+v", got)
	}

	cfg := &config.Config{Notifier: &config.NotifierConfig{Enabled: true, RetryBase: "250ms", DedupWindow: "1h"}}
	if got, err = mapNotifier(cfg); err != nil {
		t.Fatal(err)
	}
	if got.RetryBase != 250*time.Millisecond || got.DedupWindow != time.Hour || got.PersistDedup {
		t.Fatalf("mapped = %+v", got)
	}

	cfg.Notifier.RetryMaxDelay = "soon"
	if _, err := mapNotifier(cfg); err == nil {
		t.Fatalf("expected error for bad retry_max_delay")
	}
}

func TestMapPollerDefaults(t *testing.T) {
	t.Parallel()

	off := false
	cfg := &config.Config{}
	cfg.Poller.ExcludeUnavailable = &off
	got := mapPoller(cfg, 10*time.Second)
	if got.RefreshInterval != 10*time.Second || got.ExcludeUnavailable {
		t.Fatalf("poller = %+v", got)
	}
	if got.NotifyInterval <= 0 {
		t.Fatalf("notify interval not defaulted: %v", got.NotifyInterval)
	}
}

func TestRecipientTargets(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Telegram.Recipients = []int64{1, -100}
	got := recipientTargets(cfg)
	if len(got) != 2 || got[1].ChatID != -100 {
		t.Fatalf("targets = %+v", got)
	}
}

type captureSink struct{ got [][]supply.Entry }

func (c *captureSink) Deliver(_ context.Context, m []supply.Entry) error {
	c.got = append(c.got, m)
	return nil
}

func TestOpenCoreEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Storage.Driver = "memory"
	cfg.Upstream.URL = srv.URL
	cfg.Upstream.RequestsPerMinute = 60

	core, err := OpenCore(cfg, &captureSink{}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = core.Close() })

	ctx := context.Background()
	if snap := core.Cache.Refresh(ctx); snap.Len() != 3 {
		t.Fatalf("refresh len = %d", snap.Len())
	}
	if core.Fetcher.Interval() != time.Second {
		t.Fatalf("interval = %v", core.Fetcher.Interval())
	}

	// No threshold yet: nothing matches.
	if got, err := core.Poller.CheckNow(ctx); err != nil || len(got) != 0 {
		t.Fatalf("CheckNow() = %v, %v", got, err)
	}

	if err := core.Cache.SetThreshold(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := core.DB.Warehouses().Add(ctx, supply.Warehouse{ID: 507, Name: "Коледино"}); err != nil {
		t.Fatal(err)
	}
	if err := core.DB.BoxTypes().Add(ctx, "Короба"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"2024-09-05", "2024-09-06"} {
		day, _ := supply.ParseDay(d)
		if err := core.DB.Dates().Add(ctx, day); err != nil {
			t.Fatal(err)
		}
	}

	got, err := core.Poller.CheckNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// 117986 is untracked and the -1 entry is unavailable.
	if len(got) != 1 || got[0].WarehouseID != 507 || got[0].Coefficient != 0 {
		t.Fatalf("matches = %+v", got)
	}

	src := statusSource{core: core}
	if src.PollerState() == "" || src.History() != nil {
		t.Fatalf("status source state=%q history=%v", src.PollerState(), src.History())
	}
	if err := src.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}
