package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(Comp("poller"))
	log.Warn("refresh failed", Err(errors.New("boom")), Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if m["comp"] != "poller" || m["err"] != "boom" || m["n"] != float64(3) {
		t.Fatalf("unexpected record: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatalf("debug should be disabled")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatalf("Nop logger is not zero")
	}
}

func TestRenderAlert(t *testing.T) {
	t.Parallel()

	got := renderAlert([]byte(`{"level":"warn","time":"x","message":"fetch failed","comp":"upstream","err":"timeout"}` + "\n"))
	want := "<b>[WARN] fetch failed</b>\n- comp=<code>upstream</code>\n- err=<code>timeout</code>"
	if got != want {
		t.Fatalf("renderAlert =\n%q\nwant\n%q", got, want)
	}

	if got := renderAlert([]byte("a < b")); got != "a &lt; b" {
		t.Fatalf("non-JSON line = %q", got)
	}

	long := `{"level":"error","message":"x","a":"` + strings.Repeat("a", 700) + `","b":"` + strings.Repeat("<", 700) + `","c":"` + strings.Repeat("c", 700) + `"}`
	got = renderAlert([]byte(long))
	if len(got) > alertMaxLen || !strings.HasSuffix(got, "</code>") {
		t.Fatalf("long alert len=%d tail=%q", len(got), got[max(0, len(got)-20):])
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijklmnop", 12, "abcdefghi..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := clip(tc.in, tc.n); got != tc.want {
			t.Fatalf("clip(%q,%d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
