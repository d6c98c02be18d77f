package proxy

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// withLogging records one access log line and the request metrics. Query
// strings are never logged: they carry tokens and, before the first
// redirect, plaintext queries.
func withLogging(logger *zap.Logger, m *metrics, next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)
		route := routeOf(r.URL.Path)
		m.observeRequest(route, rec.status, elapsed)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", elapsed),
		}
		switch {
		case rec.status >= 500:
			logger.Warn("request", fields...)
		case route == "element":
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	})
}

var knownRoutes = map[string]string{
	"/":               "index",
	"/search":         "search",
	"/element":        "element",
	"/window":         "window",
	"/config":         "config",
	"/imgres":         "imgres",
	"/opensearch.xml": "opensearch",
	"/healthz":        "healthz",
	"/metrics":        "metrics",
	"/robots.txt":     "robots",
}

// routeOf maps a path to a bounded metric label.
func routeOf(path string) string {
	if r, ok := knownRoutes[path]; ok {
		return r
	}
	return "other"
}
