package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zsprackett/gtdash/internal/db"
	"github.com/zsprackett/gtdash/internal/dispatch"
	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
	"github.com/zsprackett/gtdash/internal/metrics"
	"github.com/zsprackett/gtdash/internal/telemetry"
)

type Config struct {
	Port         int
	Host         string
	KeepAlive    time.Duration
	ClientBuffer int
}

// Stream is a reference-counted message stream such as the log tailer.
type Stream interface {
	Subscribe(sub events.Subscriber) error
	Unsubscribe(id string)
}

// Dispatcher is the dispatch chat stream plus its send operation.
type Dispatcher interface {
	Stream
	Send(ctx context.Context, target, text string) (*events.ChatMessage, error)
	Target() string
}

// AlertLog lists recently fired alerts.
type AlertLog interface {
	RecentAlerts(limit int) ([]db.AlertRecord, error)
}

// Deps are the components the server exposes. Logs, Dispatch and Alerts may
// be nil, in which case their routes are not registered.
type Deps struct {
	Telemetry *telemetry.Registry
	Logs      Stream
	Dispatch  Dispatcher
	Alerts    AlertLog
}

type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultClientBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, logger: logger}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stream/telemetry", s.handleTelemetryStream)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/work/ready", s.handleReadyWork)
	if s.deps.Logs != nil {
		mux.HandleFunc("GET /api/stream/logs", s.handleLogStream)
	}
	if s.deps.Dispatch != nil {
		mux.HandleFunc("GET /api/stream/dispatch", s.handleDispatchStream)
		mux.HandleFunc("POST /api/dispatch", s.handleDispatchSend)
		mux.HandleFunc("GET /ws/dispatch", s.handleDispatchWS)
	}
	if s.deps.Alerts != nil {
		mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	}
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /", staticHandler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully. Open
// streams are ended by cancelling their request contexts.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("webserver: listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webserver: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webserver shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleTelemetryStream(w http.ResponseWriter, r *http.Request) {
	scope := s.deps.Telemetry.Scope(r.URL.Query().Get("town"))
	var poller *telemetry.Poller
	s.serveSSE(w, r,
		func(sub events.Subscriber) error {
			p, err := s.deps.Telemetry.Subscribe(scope, sub)
			poller = p
			return err
		},
		func(id string) {
			if poller != nil {
				poller.Unsubscribe(id)
			}
		})
}

func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, s.deps.Logs.Subscribe, s.deps.Logs.Unsubscribe)
}

func (s *Server) handleDispatchStream(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, s.deps.Dispatch.Subscribe, s.deps.Dispatch.Unsubscribe)
}

type statusResponse struct {
	Scope       string            `json:"scope"`
	Initialized bool              `json:"initialized"`
	Snapshot    *gastown.Snapshot `json:"snapshot,omitempty"`
	Counts      *events.Counts    `json:"counts,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scope := s.deps.Telemetry.Scope(r.URL.Query().Get("town"))
	src := s.deps.Telemetry.Source(scope)
	res, err := src.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	resp := statusResponse{Scope: scope, Initialized: res.Initialized, Error: res.Error}
	if res.Initialized && res.Status != nil {
		snap := *res.Status
		wc := gastown.FetchWorkCounts(r.Context(), src, s.logger)
		snap.ReadyWork = wc.Ready
		snap.BlockedWork = wc.Blocked
		counts := telemetry.CountSnapshot(snap)
		resp.Snapshot = &snap
		resp.Counts = &counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadyWork(w http.ResponseWriter, r *http.Request) {
	src := s.deps.Telemetry.Source(r.URL.Query().Get("town"))
	items, err := src.ReadyWork(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if items == nil {
		items = []gastown.WorkItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type sendRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

func (s *Server) handleDispatchSend(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := s.deps.Dispatch.Send(r.Context(), body.Target, body.Text)
	if errors.Is(err, dispatch.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}
	alerts, err := s.deps.Alerts.RecentAlerts(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []db.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
