package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	EventsReceivedTotal.WithLabelValues("node-a", "BlockAdded").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "casper_sidecar_events_received_total")
}

func TestCounterVecIncrementsPerLabel(t *testing.T) {
	before := testutil.ToFloat64(EventsDuplicateTotal.WithLabelValues("node-b", "Fault"))
	EventsDuplicateTotal.WithLabelValues("node-b", "Fault").Inc()
	after := testutil.ToFloat64(EventsDuplicateTotal.WithLabelValues("node-b", "Fault"))

	assert.Equal(t, before+1, after)
}

func TestTimerObservesDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), 5*time.Millisecond)

	timer.ObserveDuration(APIVersionHandshakeDuration)
}
