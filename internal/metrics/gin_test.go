package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddleware_RouteLabels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/v1/employees/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	before := testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, "/v1/employees/:id", "200"))
	unmatchedBefore := testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404"))

	for _, path := range []string{"/v1/employees/1", "/v1/employees/2", "/nope/123"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, "/v1/employees/:id", "200")) - before; got != 2 {
		t.Fatalf("matched route count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")) - unmatchedBefore; got != 1 {
		t.Fatalf("unmatched count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(requestsInFlight); got != 0 {
		t.Fatalf("in flight = %v", got)
	}
}
