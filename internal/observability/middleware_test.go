package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/wlproto/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAdminMiddlewareLabelsByRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	const sock = "/tmp/wlproto-admin-test"

	var buf bytes.Buffer
	r := gin.New()
	r.Use(AdminLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	r.Use(AdminMetrics(sock))
	r.GET("/objects/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues(sock, "GET", "/objects/:id", "200"))
	missBefore := testutil.ToFloat64(httpRequests.WithLabelValues(sock, "GET", "unmatched", "404"))
	for _, path := range []string{"/objects/2", "/objects/3", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, before+2, testutil.ToFloat64(httpRequests.WithLabelValues(sock, "GET", "/objects/:id", "200")))
	require.Equal(t, missBefore+1, testutil.ToFloat64(httpRequests.WithLabelValues(sock, "GET", "unmatched", "404")))
	require.Contains(t, buf.String(), `"route":"/objects/:id"`)
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestRequestLevel(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		route  string
		status int
		want   zerolog.Level
	}{
		{"/health", 200, zerolog.DebugLevel},
		{"/metrics", 200, zerolog.DebugLevel},
		{"/objects", 200, zerolog.InfoLevel},
		{"/ready", 503, zerolog.ErrorLevel},
		{"unmatched", 404, zerolog.WarnLevel},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, requestLevel(tc.route, tc.status), "%s %d", tc.route, tc.status)
	}
}
