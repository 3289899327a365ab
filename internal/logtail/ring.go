package logtail

import "github.com/zsprackett/gtdash/internal/events"

// ring is a fixed-capacity buffer that overwrites its oldest entry.
type ring struct {
	buf   []events.LogLine
	start int
	n     int
}

func newRing(size int) *ring {
	return &ring{buf: make([]events.LogLine, size)}
}

func (r *ring) push(l events.LogLine) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = l
		r.n++
		return
	}
	r.buf[r.start] = l
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []events.LogLine {
	out := make([]events.LogLine, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
