package metrics

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"corral/internal/events"
)

func TestHandlerServesMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "corral_pool_queue_depth") {
		t.Error("expected corral_pool_queue_depth in output")
	}
}

func TestRegisterEventHandlerUpdatesCounters(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	emitter := events.NewEmitter(logger)
	RegisterEventHandler(emitter)

	ok := CommandsTotal.WithLabelValues("Start", "Docker", "CLI", "None")
	rejected := RequestsRejectedTotal.WithLabelValues("DecodeError")
	timeouts := RequestTimeoutsTotal.WithLabelValues("Stop")
	observed := ContainerEventsTotal.WithLabelValues("Podman", "die")

	beforeOK := testutil.ToFloat64(ok)
	beforeRejected := testutil.ToFloat64(rejected)
	beforeTimeouts := testutil.ToFloat64(timeouts)
	beforeStore := testutil.ToFloat64(StoreFailuresTotal)
	beforeObserved := testutil.ToFloat64(observed)

	emitter.Emit(events.Event{Type: events.CommandCompleted, Operation: "Start", Runtime: "Docker", AccessMode: "CLI", Code: "None", Duration: 20 * time.Millisecond})
	emitter.Emit(events.Event{Type: events.RequestRejected, Code: "DecodeError"})
	emitter.Emit(events.Event{Type: events.RequestTimedOut, Operation: "Stop"})
	emitter.Emit(events.Event{Type: events.StoreFailed})
	emitter.Emit(events.Event{Type: events.ContainerObserved, Runtime: "Podman", Fields: map[string]string{"action": "die"}})

	if got := testutil.ToFloat64(ok) - beforeOK; got != 1 {
		t.Errorf("commands delta = %v", got)
	}
	if got := testutil.ToFloat64(rejected) - beforeRejected; got != 1 {
		t.Errorf("rejected delta = %v", got)
	}
	if got := testutil.ToFloat64(timeouts) - beforeTimeouts; got != 1 {
		t.Errorf("timeouts delta = %v", got)
	}
	if got := testutil.ToFloat64(StoreFailuresTotal) - beforeStore; got != 1 {
		t.Errorf("store failures delta = %v", got)
	}
	if got := testutil.ToFloat64(observed) - beforeObserved; got != 1 {
		t.Errorf("observed delta = %v", got)
	}
}
