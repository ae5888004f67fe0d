package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// requestFields collects attributes handlers want on the completion line,
// such as task_id and decision.
type requestFields struct {
	attrs []slog.Attr
}

// LoggingMiddleware writes one line per request once the handler returns.
// Health checks and artifact downloads are logged at debug so task polling
// and dashboards do not drown out analyses; server errors are logged at error.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := &requestFields{}
			ctx := context.WithValue(r.Context(), logFieldsKey, fields)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(ctx))

			attrs := append([]slog.Attr{
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
			}, fields.attrs...)

			logger.LogAttrs(ctx, requestLevel(r, rec.status), "request completed", attrs...)
		})
	}
}

func requestLevel(r *http.Request, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case r.URL.Path == "/healthz", strings.HasPrefix(r.URL.Path, outputPrefix):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// AddLogField adds key=value to the request's completion line. Empty values
// and requests outside LoggingMiddleware are ignored.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey).(*requestFields); ok {
		fields.attrs = append(fields.attrs, slog.String(key, value))
	}
}

// AddError records err on the completion line.
func AddError(ctx context.Context, err error) {
	if err != nil {
		AddLogField(ctx, "error", err.Error())
	}
}
