package feed

import (
	"strings"
	"testing"
)

func TestReadSSE(t *testing.T) {
	body := ": keepalive\n\n" +
		"event: connected\ndata: {}\n\n" +
		"event: event\ndata: {\"a\":1}\n\n" +
		"data: line one\ndata: line two\n\n" +
		"event: empty\n\n" +
		"event: trailing\ndata: x"

	var got []sseEvent
	if err := readSSE(strings.NewReader(body), func(e sseEvent) { got = append(got, e) }); err != nil {
		t.Fatalf("readSSE: %v", err)
	}
	want := []sseEvent{
		{Name: "connected", Data: []byte("{}")},
		{Name: "event", Data: []byte(`{"a":1}`)},
		{Name: "message", Data: []byte("line one\nline two")},
		{Name: "trailing", Data: []byte("x")},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Name != want[i].Name || string(got[i].Data) != string(want[i].Data) {
			t.Errorf("event %d: got %s %q want %s %q", i, got[i].Name, got[i].Data, want[i].Name, want[i].Data)
		}
	}
}
