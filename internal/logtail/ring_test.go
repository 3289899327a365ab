package logtail

import (
	"fmt"
	"testing"

	"github.com/zsprackett/gtdash/internal/events"
)

func TestRingOverwritesOldest(t *testing.T) {
	r := newRing(3)
	if got := r.items(); len(got) != 0 {
		t.Fatalf("expected empty ring, got %v", got)
	}
	for i := 1; i <= 5; i++ {
		r.push(events.LogLine{Line: fmt.Sprint(i)})
	}
	got := r.items()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	for i, want := range []string{"3", "4", "5"} {
		if got[i].Line != want {
			t.Errorf("item %d: got %q want %q", i, got[i].Line, want)
		}
	}
}
