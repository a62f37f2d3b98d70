package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesJSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "prod").Info("relay started", "workers", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "relay started", line["msg"])
	assert.EqualValues(t, 2, line["workers"])
}

func TestNewLoggerUsesTextInDev(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "dev").Debug("claim lost")
	assert.Contains(t, buf.String(), "claim lost")
	assert.False(t, json.Valid(buf.Bytes()))
}

func newRouter(h HealthHandlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	mw := Middleware{}
	r.Use(mw.RequestID(), mw.AccessLog())
	r.GET("/livez", h.Livez)
	r.GET("/readyz", h.Readyz)
	return r
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	h := HealthHandlers{Checks: map[string]Check{
		"store":  func(context.Context) error { return nil },
		"broker": func(context.Context) error { return errors.New("no brokers") },
	}}
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"broker": "no brokers"}, body.Failed)
}

func TestReadyzAndRequestID(t *testing.T) {
	r := newRouter(HealthHandlers{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDReplacesMalformedHeader(t *testing.T) {
	r := newRouter(HealthHandlers{})
	for _, id := range []string{"bad id\nwith newline", strings.Repeat("a", 65)} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/livez", nil)
		req.Header.Set(RequestIDHeader, id)
		r.ServeHTTP(rec, req)
		got := rec.Header().Get(RequestIDHeader)
		assert.NotEqual(t, id, got)
		assert.Len(t, got, 36)
	}
}

func TestAccessLogLevelsAndSagaID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	mw := Middleware{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	r := gin.New()
	r.Use(mw.RequestID(), mw.AccessLog())
	r.GET("/api/v1/sagas/:sagaId", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/s-1", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "s-1", line["saga_id"])
	assert.Equal(t, "req-7", line["request_id"])
	assert.Equal(t, "/api/v1/sagas/:sagaId", line["route"])
	assert.EqualValues(t, 404, line["status"])
}
