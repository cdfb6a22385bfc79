package upstream

import (
	"encoding/json"
	"fmt"
	"time"

	"coefbot/internal/supply"
)

// wireEntry mirrors one feed record. Pointers tell a missing field apart
// from a zero value.
type wireEntry struct {
	Date          *string `json:"date"`
	Coefficient   *int    `json:"coefficient"`
	WarehouseID   *int64  `json:"warehouseID"`
	WarehouseName *string `json:"warehouseName"`
	BoxTypeName   *string `json:"boxTypeName"`
	BoxTypeID     *int64  `json:"boxTypeID"`
}

// Decode parses a feed body. Any record missing a required field fails the
// whole body with ErrParse; partial snapshots are never produced.
func Decode(body []byte) ([]supply.Entry, error) {
	var raw []wireEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	out := make([]supply.Entry, 0, len(raw))
	for i, w := range raw {
		e, err := w.entry()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrParse, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (w wireEntry) entry() (supply.Entry, error) {
	switch {
	case w.Date == nil:
		return supply.Entry{}, fmt.Errorf("missing date")
	case w.Coefficient == nil:
		return supply.Entry{}, fmt.Errorf("missing coefficient")
	case w.WarehouseID == nil:
		return supply.Entry{}, fmt.Errorf("missing warehouseID")
	case w.WarehouseName == nil:
		return supply.Entry{}, fmt.Errorf("missing warehouseName")
	case w.BoxTypeName == nil:
		return supply.Entry{}, fmt.Errorf("missing boxTypeName")
	}
	day, err := parseFeedDate(*w.Date)
	if err != nil {
		return supply.Entry{}, err
	}
	return supply.Entry{
		Date:          day,
		Coefficient:   *w.Coefficient,
		WarehouseID:   *w.WarehouseID,
		WarehouseName: *w.WarehouseName,
		BoxTypeName:   *w.BoxTypeName,
		BoxTypeID:     w.BoxTypeID,
	}, nil
}

func parseFeedDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", supply.DayLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return supply.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}
