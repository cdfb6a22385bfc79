package supply

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type DateFilterKind int

const (
	// DatesListed passes entries whose day is one of an explicit set.
	DatesListed DateFilterKind = iota
	// DatesInRange passes entries whose day lies in [Start, End].
	DatesInRange
)

// DateFilter is either an explicit list of days or an inclusive range.
// Build it with DatesList or DateRange.
type DateFilter struct {
	Kind  DateFilterKind
	days  map[string]struct{}
	Start time.Time
	End   time.Time
}

func DatesList(days ...time.Time) DateFilter {
	f := DateFilter{Kind: DatesListed, days: make(map[string]struct{}, len(days))}
	for _, d := range days {
		f.days[FormatDay(d)] = struct{}{}
	}
	return f
}

// DateRange swaps start and end when given in reverse order.
func DateRange(start, end time.Time) DateFilter {
	s, e := Day(start), Day(end)
	if e.Before(s) {
		s, e = e, s
	}
	return DateFilter{Kind: DatesInRange, Start: s, End: e}
}

func (f DateFilter) Pass(day time.Time) bool {
	d := Day(day)
	switch f.Kind {
	case DatesInRange:
		return !d.Before(f.Start) && !d.After(f.End)
	default:
		_, ok := f.days[FormatDay(d)]
		return ok
	}
}

func (f DateFilter) String() string {
	if f.Kind == DatesInRange {
		return FormatDay(f.Start) + ".." + FormatDay(f.End)
	}
	return fmt.Sprintf("%d day(s)", len(f.days))
}

// Filter is the user's tracking criteria. A nil Threshold means none is
// configured, and then nothing matches.
type Filter struct {
	WarehouseIDs       []int64
	BoxTypes           []string
	Dates              DateFilter
	Threshold          *int
	ExcludeUnavailable bool
}

// Match returns the entries of snap that satisfy every criterion in f, in
// snapshot order. Warehouses are compared by id only.
func Match(snap Snapshot, f Filter) []Entry {
	if f.Threshold == nil || len(f.WarehouseIDs) == 0 || len(f.BoxTypes) == 0 {
		return nil
	}
	threshold := *f.Threshold

	whs := make(map[int64]struct{}, len(f.WarehouseIDs))
	for _, id := range f.WarehouseIDs {
		whs[id] = struct{}{}
	}
	bts := make(map[string]struct{}, len(f.BoxTypes))
	for _, b := range f.BoxTypes {
		bts[b] = struct{}{}
	}

	var out []Entry
	for _, e := range snap.Entries {
		if f.ExcludeUnavailable && e.Coefficient == Unavailable {
			continue
		}
		if e.Coefficient >= threshold {
			continue
		}
		if _, ok := whs[e.WarehouseID]; !ok {
			continue
		}
		if _, ok := bts[e.BoxTypeName]; !ok {
			continue
		}
		if !f.Dates.Pass(e.Date) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Line renders an entry as "<warehouse> <box type> <coefficient> <YYYY-MM-DD>".
func (e Entry) Line() string {
	return e.WarehouseName + " " + e.BoxTypeName + " " + strconv.Itoa(e.Coefficient) + " " + FormatDay(e.Date)
}

// Lines joins Line for each entry with newlines.
func Lines(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Line())
	}
	return b.String()
}
