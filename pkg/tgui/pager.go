package tgui

import "fmt"

// Page is one window over a list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Size    int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page index of items. Out-of-range indexes clamp to the
// nearest valid page.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := max((total+size-1)/size, 1)
	index = min(max(index, 0), pages-1)

	start := min(index*size, total)
	end := min(start+size, total)
	return Page[T]{
		Items:   items[start:end],
		Index:   index,
		Size:    size,
		Total:   total,
		HasPrev: index > 0,
		HasNext: end < total,
	}
}

func (p Page[T]) Pages() int { return max((p.Total+p.Size-1)/p.Size, 1) }

// Label is a compact "Page 2/3 • 11–20 of 27" caption.
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	from := p.Index*p.Size + 1
	to := min(from+p.Size-1, p.Total)
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", p.Index+1, p.Pages(), from, to, p.Total)
}
