// Package supply holds the acceptance coefficient data model and the pure
// matching logic that turns a snapshot into notification candidates.
package supply

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Unavailable is the coefficient the marketplace reports for closed slots.
const Unavailable = -1

// Entry is one (warehouse, box type, date) acceptance coefficient record.
// JSON names follow the upstream feed so cached snapshots stay readable.
type Entry struct {
	Date          time.Time `json:"date"`
	Coefficient   int       `json:"coefficient"`
	WarehouseID   int64     `json:"warehouseID"`
	WarehouseName string    `json:"warehouseName"`
	BoxTypeName   string    `json:"boxTypeName"`
	BoxTypeID     *int64    `json:"boxTypeID,omitempty"`
}

// Snapshot is the latest complete feed fetch.
type Snapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	Entries   []Entry   `json:"entries"`
}

func (s Snapshot) Len() int      { return len(s.Entries) }
func (s Snapshot) IsEmpty() bool { return len(s.Entries) == 0 }

// Warehouse is a tracked warehouse. ID is the identity; Name is for display.
type Warehouse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

var scPrefix = regexp.MustCompile(`^СЦ\s+`)

// SortKey orders warehouses by name ignoring the sorting-center prefix.
func SortKey(name string) string {
	return strings.ToLower(scPrefix.ReplaceAllString(name, ""))
}

// Warehouses returns the distinct warehouses in the snapshot sorted for menus.
// The first name seen for an id wins.
func (s Snapshot) Warehouses() []Warehouse {
	seen := make(map[int64]struct{}, 64)
	out := make([]Warehouse, 0, 64)
	for _, e := range s.Entries {
		if _, ok := seen[e.WarehouseID]; ok {
			continue
		}
		seen[e.WarehouseID] = struct{}{}
		out = append(out, Warehouse{ID: e.WarehouseID, Name: e.WarehouseName})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := SortKey(out[i].Name), SortKey(out[j].Name)
		if ki != kj {
			return ki < kj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WarehouseName looks up the display name for id.
func (s Snapshot) WarehouseName(id int64) (string, bool) {
	for _, e := range s.Entries {
		if e.WarehouseID == id {
			return e.WarehouseName, true
		}
	}
	return "", false
}

// BoxTypes returns the distinct box type names in the snapshot, sorted.
func (s Snapshot) BoxTypes() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range s.Entries {
		if _, ok := seen[e.BoxTypeName]; ok {
			continue
		}
		seen[e.BoxTypeName] = struct{}{}
		out = append(out, e.BoxTypeName)
	}
	sort.Strings(out)
	return out
}
