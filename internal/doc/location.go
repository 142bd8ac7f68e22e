// Package doc defines the local document data model: spatial locations,
// typed scalar values, the recursive document schema, and the manifest
// format that describes a set of documents and their ground-truth records.
package doc

import (
	"errors"
	"fmt"
)

// ErrPageMismatch is returned when combining locations on different pages.
var ErrPageMismatch = errors.New("locations span multiple pages")

// Location is a normalized rectangle on a document page. All coordinates
// are fractions of the page dimensions (0..1). UIDs optionally records the
// word tokens the location was derived from; when every uid resolves
// against a document's word index, uid provenance takes precedence over
// spatial overlap.
type Location struct {
	Top    float64  `json:"top"`
	Left   float64  `json:"left"`
	Height float64  `json:"height"`
	Width  float64  `json:"width"`
	Page   int      `json:"page"`
	UIDs   []string `json:"uids,omitempty"`
}

// Expand grows the rectangle by a small margin on every side. Used to be
// forgiving about OCR boxes that clip glyph edges.
func (l Location) Expand() Location {
	return Location{
		Top:    l.Top - 0.005,
		Left:   l.Left - 0.005,
		Height: l.Height + 0.005,
		Width:  l.Width + 0.005,
		Page:   l.Page,
	}
}

// Overlaps reports whether two rectangles intersect. The projections must
// intersect on both axes independently, and the rectangles must share a page.
func (l Location) Overlaps(other Location) bool {
	return l.Page == other.Page &&
		spansOverlap(l.Left, l.Width, other.Left, other.Width) &&
		spansOverlap(l.Top, l.Height, other.Top, other.Height)
}

func spansOverlap(start1, extent1, start2, extent2 float64) bool {
	return start1+extent1 >= start2 && start2+extent2 >= start1
}

// Combine returns the minimal rectangle enclosing all inputs. Every input
// must be on the same page. Combining a single location returns it
// unchanged.
func Combine(locs ...Location) (Location, error) {
	if len(locs) == 0 {
		return Location{}, errors.New("no locations to combine")
	}
	if len(locs) == 1 {
		return locs[0], nil
	}

	page := locs[0].Page
	top, left := locs[0].Top, locs[0].Left
	bottom, right := locs[0].Top+locs[0].Height, locs[0].Left+locs[0].Width
	for _, l := range locs[1:] {
		if l.Page != page {
			return Location{}, fmt.Errorf("%w: %d and %d", ErrPageMismatch, page, l.Page)
		}
		top = min(top, l.Top)
		left = min(left, l.Left)
		bottom = max(bottom, l.Top+l.Height)
		right = max(right, l.Left+l.Width)
	}

	return Location{
		Top:    top,
		Left:   left,
		Height: bottom - top,
		Width:  right - left,
		Page:   page,
	}, nil
}

// Cell identifies the table cell a value was captured from.
type Cell struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}
