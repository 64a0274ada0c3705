package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/bannerhide/idgen"
)

var requestID = idgen.NanoID(8)

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLog tags each request with an ID, exposed as X-Request-ID and
// attached to a per-request logger, and logs the request once served.
func RequestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestID()
			w.Header().Set("X-Request-ID", id)

			log := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), LoggerKey, log)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			log.Debug("shield: request served", "status", rec.status, "duration_ms", time.Since(start).Milliseconds())
		})
	}
}
