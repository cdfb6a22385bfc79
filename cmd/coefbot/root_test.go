package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const feed = `[
 {"date":"2024-09-05","coefficient":0,"warehouseID":507,"warehouseName":"Коледино","boxTypeName":"Короба","boxTypeID":2},
 {"date":"2024-09-05","coefficient":4,"warehouseID":507,"warehouseName":"Коледино","boxTypeName":"Монопаллеты","boxTypeID":5},
 {"date":"2024-09-07","coefficient":1,"warehouseID":117986,"warehouseName":"СЦ Казань","boxTypeName":"Короба","boxTypeID":2}
]`

func writeConfig(t *testing.T, upstream string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "upstream:\n  url: " + upstream + "\n  requests_per_minute: 60\n" +
		"storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "coefbot.db") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestRootHelp(t *testing.T) {
	out := mustExecute(t, "--help")
	for _, want := range []string{"run", "fetch", "matches", "track", "threshold"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help missing %q:\n%s", want, out)
		}
	}
}

func TestTrackAndMatchFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	t.Cleanup(srv.Close)
	cfg := writeConfig(t, srv.URL)
	run := func(args ...string) string {
		t.Helper()
		return mustExecute(t, append([]string{"--config", cfg}, args...)...)
	}

	if out := run("fetch", "--limit", "1"); strings.Count(strings.TrimSpace(out), "\n") != 0 {
		t.Fatalf("fetch --limit 1 printed:\n%s", out)
	}
	if out := run("matches"); !strings.Contains(out, "No threshold") {
		t.Fatalf("matches without threshold = %q", out)
	}

	run("threshold", "set", "3")
	if out := run("threshold", "get"); strings.TrimSpace(out) != "3" {
		t.Fatalf("threshold get = %q", out)
	}

	if out := run("track", "warehouse", "add", "507"); !strings.Contains(out, "Коледино") {
		t.Fatalf("warehouse name not taken from snapshot: %q", out)
	}
	if out := run("track", "warehouse", "add", "507"); !strings.Contains(out, "already tracked") {
		t.Fatalf("duplicate add = %q", out)
	}
	run("track", "warehouse", "add", "117986")
	run("track", "boxtype", "add", "Короба")
	run("track", "date", "add", "2024-09-05")

	out := run("matches")
	if strings.TrimSpace(out) != "Коледино Короба 0 2024-09-05" {
		t.Fatalf("matches = %q", out)
	}
	out = run("matches", "--from", "2024-09-08", "--to", "2024-09-05")
	if !strings.Contains(out, "СЦ Казань Короба 1 2024-09-07") || !strings.Contains(out, "Коледино Короба 0") {
		t.Fatalf("range matches = %q", out)
	}
	if _, err := execute(t, "--config", cfg, "matches", "--from", "2024-09-05"); err == nil {
		t.Fatalf("expected error for --from without --to")
	}

	if out := run("track", "date", "list"); strings.TrimSpace(out) != "2024-09-05" {
		t.Fatalf("date list = %q", out)
	}
	if _, err := execute(t, "--config", cfg, "track", "boxtype", "drop", "Суперсейф"); err == nil {
		t.Fatalf("expected error dropping an untracked box type")
	}

	run("clear")
	if out := run("track", "warehouse", "list"); !strings.Contains(out, "No warehouses tracked") {
		t.Fatalf("after clear = %q", out)
	}
	if out := run("threshold", "get"); strings.TrimSpace(out) != "3" {
		t.Fatalf("clear dropped the threshold: %q", out)
	}
}

func TestRunNeedsToken(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1")
	t.Setenv("COEFBOT_TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if _, err := execute(t, "--config", cfg, "run"); err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("run without token err = %v", err)
	}
}
