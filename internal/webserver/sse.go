package webserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
)

var errClientClosed = errors.New("client closed")

const DefaultKeepAlive = 30 * time.Second

// serveSSE streams every message delivered to a fresh client until the
// request ends or the hub detaches the client. attach registers the client
// with its stream, detach removes it again.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, attach func(events.Subscriber) error, detach func(id string)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := newStreamClient("sse", s.cfg.ClientBuffer)
	if err := attach(client); err != nil {
		s.logger.Warn("webserver: subscribe failed", "path", r.URL.Path, "err", err)
		return
	}
	defer detach(client.ID())

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case m := <-client.ch:
			if err := writeSSE(w, flusher, m); err != nil {
				s.logger.Debug("webserver: sse write failed", "path", r.URL.Path, "err", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, f http.Flusher, m events.Message) error {
	data, err := m.JSON()
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Name, data); err != nil {
		return err
	}
	f.Flush()
	return nil
}
