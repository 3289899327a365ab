package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	if d := timer.Duration(); d < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 20ms", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_seconds", Help: "test"})
	NewTimer().ObserveDuration(h)
	if n := testutil.CollectAndCount(h); n != 1 {
		t.Errorf("expected 1 collected metric, got %d", n)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	AlertsFired.WithLabelValues("mq_backlog").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "gtdash_alerts_fired_total") {
		t.Error("expected gtdash_alerts_fired_total in exposition output")
	}
}
