package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerEmitsCloudLoggingFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "api", Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("entity", "Contact"))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "api", entry["component"])
	require.Equal(t, "Contact", entry["entity"])
	require.Contains(t, entry, "timestamp")
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)

	_, err = NewLogger(Config{Format: "xml"})
	require.Error(t, err)
}

func TestRequestLoggerStoresLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base, err := NewLogger(Config{Output: &buf})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(base))
	r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
		_, ok := FromContext(req.Context())
		require.True(t, ok)
		require.NotNil(t, FromRequest(req, nil))
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, base.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "request completed", entry["message"])
	require.EqualValues(t, http.StatusTeapot, entry["status"])
	require.Equal(t, "/ping", entry["path"])
	require.NotEmpty(t, entry["request_id"])
	require.Equal(t, "/ping", entry["route"])
}

func TestLevelForStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, zapcore.InfoLevel, levelForStatus(http.StatusNoContent))
	require.Equal(t, zapcore.WarnLevel, levelForStatus(http.StatusNotFound))
	require.Equal(t, zapcore.ErrorLevel, levelForStatus(http.StatusGatewayTimeout))
}
