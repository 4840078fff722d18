package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/metrics"
)

// Logging writes one access log line per request and records its duration.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			metrics.HTTPRequestDurationSeconds.
				WithLabelValues(route, strconv.Itoa(status)).
				Observe(elapsed.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("remote", r.RemoteAddr),
				zap.String("requestId", GetRequestID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}
