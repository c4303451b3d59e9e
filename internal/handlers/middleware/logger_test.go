package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level string
	msg   string
	attrs map[string]any
}

type recordingLogger struct {
	entries []logEntry
}

func (l *recordingLogger) add(level string, msg string, args ...any) {
	attrs := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		attrs[args[i].(string)] = args[i+1]
	}
	l.entries = append(l.entries, logEntry{level: level, msg: msg, attrs: attrs})
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args...) }

func TestLoggerMiddleware(t *testing.T) {
	serve := func(t *testing.T, h http.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, logEntry) {
		t.Helper()

		l := &recordingLogger{}
		w := httptest.NewRecorder()
		LoggerMiddleware(l)(h).ServeHTTP(w, req)

		require.Len(t, l.entries, 1, "one entry per request")
		return w, l.entries[0]
	}

	t.Run("logs request", func(t *testing.T) {
		w, entry := serve(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("hi"))
		}, httptest.NewRequest(http.MethodGet, "/api/users/user-1/balance", nil))

		require.Equal(t, "info", entry.level)
		require.Equal(t, "HTTP request", entry.msg)
		require.Equal(t, http.MethodGet, entry.attrs["method"])
		require.Equal(t, "/api/users/user-1/balance", entry.attrs["uri"])
		require.Equal(t, http.StatusOK, entry.attrs["status"], "implicit status is logged")
		require.Equal(t, 2, entry.attrs["size"])
		require.Contains(t, entry.attrs, "duration")

		require.NotEmpty(t, entry.attrs["request_id"])
		require.Equal(t, w.Header().Get(RequestIDHeader), entry.attrs["request_id"], "generated request id has to be returned to caller")
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments", nil)
		req.Header.Set(RequestIDHeader, "evt-delivery-1")

		w, entry := serve(t, func(http.ResponseWriter, *http.Request) {}, req)

		require.Equal(t, "evt-delivery-1", w.Header().Get(RequestIDHeader))
		require.Equal(t, "evt-delivery-1", entry.attrs["request_id"])
	})

	t.Run("level by status", func(t *testing.T) {
		tests := []struct {
			status int
			level  string
		}{
			{http.StatusCreated, "info"},
			{http.StatusBadRequest, "warn"},
			{http.StatusPaymentRequired, "warn"},
			{http.StatusInternalServerError, "error"},
		}

		for _, tt := range tests {
			t.Run(http.StatusText(tt.status), func(t *testing.T) {
				_, entry := serve(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					w.WriteHeader(http.StatusOK) // ignored by net/http too
				}, httptest.NewRequest(http.MethodGet, "/", nil))

				require.Equal(t, tt.level, entry.level)
				require.Equal(t, tt.status, entry.attrs["status"])
			})
		}
	})
}
