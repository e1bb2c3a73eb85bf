package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionFinished(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionFinished("completed", 120*time.Millisecond, 3, 2)
	m.SessionFinished("completed", time.Second, 1, 0)
	m.SessionFinished("failed", time.Millisecond, 0, 0)

	if got := testutil.ToFloat64(m.sessions.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed sessions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sessions.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues("present")); got != 4 {
		t.Errorf("present records = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues("absent")); got != 2 {
		t.Errorf("absent records = %v, want 2", got)
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/classes/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/classes/1", "/classes/2", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/classes/:id", "200")); got != 2 {
		t.Errorf("route requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}
}
