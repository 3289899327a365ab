package feed

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Name string
	Data []byte
}

// readSSE parses a text/event-stream body and calls fn for each complete
// event. Comment lines are skipped; events without data are dropped. It
// returns the scanner error, or nil at EOF.
func readSSE(r io.Reader, fn func(sseEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var name string
	var data []string
	flush := func() {
		if len(data) > 0 {
			if name == "" {
				name = "message"
			}
			fn(sseEvent{Name: name, Data: []byte(strings.Join(data, "\n"))})
		}
		name = ""
		data = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			part := strings.TrimPrefix(line, "data:")
			part = strings.TrimPrefix(part, " ")
			data = append(data, part)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
