package webserver

import (
	"errors"
	"testing"

	"github.com/zsprackett/gtdash/internal/events"
)

func TestStreamClientDropsWhenFull(t *testing.T) {
	c := newStreamClient("test", 2)
	for i := 0; i < 5; i++ {
		if err := c.Deliver(events.Message{Name: events.NameLog}); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}
	if len(c.ch) != 2 {
		t.Errorf("expected 2 buffered messages, got %d", len(c.ch))
	}
}

func TestStreamClientCloseIsIdempotent(t *testing.T) {
	c := newStreamClient("test", 1)
	c.Close()
	c.Close()
	select {
	case <-c.done:
	default:
		t.Fatal("done not closed")
	}
	if err := c.Deliver(events.Message{Name: events.NameLog}); !errors.Is(err, errClientClosed) {
		t.Errorf("expected errClientClosed, got %v", err)
	}
}
