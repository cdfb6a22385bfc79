package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestParseData(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		scope   string
		action  string
		payload string
		ok      bool
	}{
		{"wh:t:507", "wh", "t", "507", true},
		{"wh:p", "wh", "p", "", true},
		{"dt:t:2024-09-05", "dt", "t", "2024-09-05", true},
		{"x:y:a:b", "x", "y", "a:b", true},
		{"nocolon", "", "", "", false},
		{":t:1", "", "", "", false},
	}
	for _, tc := range cases {
		s, a, p, ok := ParseData(tc.in)
		if ok != tc.ok || s != tc.scope || a != tc.action || p != tc.payload {
			t.Fatalf("ParseData(%q) = %q %q %q %v", tc.in, s, a, p, ok)
		}
	}
	if got := Data(" bt ", "t", "Короба"); got != "bt:t:Короба" {
		t.Fatalf("Data() = %q", got)
	}
}

func TestCheckedData(t *testing.T) {
	t.Parallel()

	if _, err := CheckedData("bt", "t", strings.Repeat("я", 40)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("CheckedData() long payload err = %v", err)
	}
	if d, err := CheckedData("wh", "t", "117986"); err != nil || d != "wh:t:117986" {
		t.Fatalf("CheckedData() = %q, %v", d, err)
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	items := make([]int, 27)
	for i := range items {
		items[i] = i
	}
	p := Paginate(items, 1, 10)
	if len(p.Items) != 10 || p.Items[0] != 10 || !p.HasPrev || !p.HasNext {
		t.Fatalf("page 1 = %+v", p)
	}
	if got := p.Label(); got != "Page 2/3 • 11–20 of 27" {
		t.Fatalf("Label() = %q", got)
	}

	last := Paginate(items, 99, 10)
	if last.Index != 2 || len(last.Items) != 7 || last.HasNext {
		t.Fatalf("clamped page = %+v", last)
	}
	if got := Paginate([]int(nil), 0, 10).Label(); got != "Page 1/1" {
		t.Fatalf("empty Label() = %q", got)
	}
}

func TestTruncRunesAndMark(t *testing.T) {
	t.Parallel()

	if got := TruncRunes("Коледино", 4); got != "Коле…" {
		t.Fatalf("TruncRunes() = %q", got)
	}
	if got := TruncRunes("Казань", 6); got != "Казань" {
		t.Fatalf("TruncRunes() exact = %q", got)
	}
	if Mark("Короба", true) != "✅ Короба" || Mark("Короба", false) != "Короба" {
		t.Fatalf("Mark() wrong")
	}
}

func TestEsc(t *testing.T) {
	t.Parallel()

	if got := B("a<b").String(); got != "<b>a&lt;b</b>" {
		t.Fatalf("B() = %q", got)
	}
	if got := JoinH("\n", "x", " ", "y"); got != "x\ny" {
		t.Fatalf("JoinH() = %q", got)
	}
}
