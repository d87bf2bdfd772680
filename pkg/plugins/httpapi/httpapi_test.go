package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/proctable"
	"github.com/loykin/daemonkit/internal/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, sanitizeBase(c.in), c.in)
	}
}

func newTestDaemon() *scheduler.Daemon {
	bus := eventbus.New()
	table := proctable.New()
	return scheduler.New(bus, table, scheduler.Options{})
}

func TestHandleHealthzReportsState(t *testing.T) {
	d := newTestDaemon()
	r := NewRouter(d, "", false)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, 200, rec.Code)

	var out healthResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.OK)
	require.Equal(t, d.State().String(), out.State)
}

func TestHandleStatsReturnsEmptyMediatorsForFreshDaemon(t *testing.T) {
	d := newTestDaemon()
	r := NewRouter(d, "/v1", false)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/stats", nil))
	require.Equal(t, 200, rec.Code)

	var out statsResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Empty(t, out.Mediators)
}

func TestMetricsRouteOnlyMountedWhenEnabled(t *testing.T) {
	d := newTestDaemon()

	withoutMetrics := NewRouter(d, "", false)
	rec := httptest.NewRecorder()
	withoutMetrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)

	withMetrics := NewRouter(d, "", true)
	rec2 := httptest.NewRecorder()
	withMetrics.Handler().ServeHTTP(rec2, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec2.Code)
}
