package doc

import (
	"errors"
	"reflect"
	"testing"
)

func loc(top, left, height, width float64, page int) Location {
	return Location{Top: top, Left: left, Height: height, Width: width, Page: page}
}

func TestCombine(t *testing.T) {
	t.Run("single location returned unchanged", func(t *testing.T) {
		in := Location{Top: 0.1, Left: 0.2, Height: 0.05, Width: 0.3, Page: 2, UIDs: []string{"w1"}}
		got, err := Combine(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Top != in.Top || got.Left != in.Left || got.Height != in.Height ||
			got.Width != in.Width || got.Page != in.Page {
			t.Errorf("expected %+v, got %+v", in, got)
		}
		if len(got.UIDs) != 1 || got.UIDs[0] != "w1" {
			t.Errorf("expected uids preserved, got %v", got.UIDs)
		}
	})

	t.Run("minimal enclosing rectangle", func(t *testing.T) {
		got, err := Combine(
			loc(0.1, 0.1, 0.1, 0.1, 0),
			loc(0.3, 0.4, 0.1, 0.2, 0),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := loc(0.1, 0.1, 0.3, 0.5, 0)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("contained location does not grow the result", func(t *testing.T) {
		outer := loc(0.1, 0.1, 0.5, 0.5, 1)
		inner := loc(0.2, 0.2, 0.1, 0.1, 1)
		got, err := Combine(outer, inner)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, outer) {
			t.Errorf("expected %+v, got %+v", outer, got)
		}
	})

	t.Run("page mismatch", func(t *testing.T) {
		_, err := Combine(loc(0, 0, 1, 1, 0), loc(0, 0, 1, 1, 1))
		if !errors.Is(err, ErrPageMismatch) {
			t.Errorf("expected ErrPageMismatch, got %v", err)
		}
	})

	t.Run("no locations", func(t *testing.T) {
		if _, err := Combine(); err == nil {
			t.Error("expected error for empty input")
		}
	})
}

func TestOverlaps(t *testing.T) {
	base := loc(0.1, 0.1, 0.2, 0.2, 0)

	tests := []struct {
		name  string
		other Location
		want  bool
	}{
		{"identical", base, true},
		{"partial overlap", loc(0.2, 0.2, 0.2, 0.2, 0), true},
		{"touching edges", loc(0.3, 0.1, 0.1, 0.2, 0), true},
		{"disjoint vertically", loc(0.5, 0.1, 0.1, 0.2, 0), false},
		{"disjoint horizontally", loc(0.1, 0.5, 0.2, 0.1, 0), false},
		{"overlapping box on another page", loc(0.1, 0.1, 0.2, 0.2, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Overlaps(tt.other); got != tt.want {
				t.Errorf("Overlaps(%+v) = %v, want %v", tt.other, got, tt.want)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	got := loc(0.5, 0.5, 0.1, 0.1, 3).Expand()
	if got.Top >= 0.5 || got.Left >= 0.5 {
		t.Errorf("expected expansion to move the origin up and left, got %+v", got)
	}
	if got.Height <= 0.1 || got.Width <= 0.1 {
		t.Errorf("expected expansion to grow the extents, got %+v", got)
	}
	if got.Page != 3 {
		t.Errorf("expected page preserved, got %d", got.Page)
	}

	// A word box that barely misses an entity box should overlap after
	// expansion.
	word := loc(0.1, 0.1, 0.1, 0.1, 0)
	entity := loc(0.0, 0.1, 0.097, 0.1, 0)
	if word.Overlaps(entity) {
		t.Fatal("test boxes should not overlap before expansion")
	}
	if !word.Expand().Overlaps(entity) {
		t.Error("expected boxes to overlap after expansion")
	}
}
