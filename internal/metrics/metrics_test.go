package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_requests_total"},
		[]string{"method", "endpoint", "status_code"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "test_request_duration_seconds"},
		[]string{"method", "endpoint"},
	)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(requests, duration))
	router.HandleFunc("/api/ping/{hostname}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, host := range []string{"gpu01", "gpu02"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping/"+host, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(requests.WithLabelValues("GET", "/api/ping/{hostname}", "418")))
	assert.Equal(t, 1, testutil.CollectAndCount(requests))
}

type fakeState struct {
	hosts    int
	sessions map[string]int
}

func (f fakeState) HostCount() int                 { return f.hosts }
func (f fakeState) ActiveSessions() map[string]int { return f.sessions }

func TestCollector_CollectsOnStart(t *testing.T) {
	collector := NewCollector(fakeState{hosts: 3, sessions: map[string]int{"ssh": 2, "nvtop": 1}}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		collector.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(ConfiguredHosts) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(TerminalSessionsActive.WithLabelValues("ssh")) == 2
	}, time.Second, 10*time.Millisecond)

	collector.Stop()
	collector.Stop()
	cancel()
	<-done
}
