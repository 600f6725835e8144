package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the number of bytes written
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// LoggingMiddleware создает middleware для логирования HTTP запросов.
// Логирует метод, путь, статус, время выполнения и размеры тел; токены не логируются.
// Пути из skipPaths (health check, метрики) не логируются.
func LoggingMiddleware(logger *slog.Logger, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			// Владельца определяет AuthMiddleware глубже в цепочке
			var owner string
			r = r.WithContext(withOwnerSink(r.Context(), &owner))

			next.ServeHTTP(wrapped, r)

			logLevel := slog.LevelInfo
			if wrapped.statusCode >= 500 {
				logLevel = slog.LevelError
			} else if wrapped.statusCode >= 400 {
				logLevel = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_read", r.ContentLength,
				"bytes_written", wrapped.written,
			}
			if owner != "" {
				attrs = append(attrs, "owner_id", owner)
			}
			logger.Log(r.Context(), logLevel, "HTTP request", attrs...)
		})
	}
}

// ownerSinkKey ключ ячейки, в которую AuthMiddleware записывает владельца для лога запроса
type ownerSinkKey struct{}

func withOwnerSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, ownerSinkKey{}, sink)
}

// logOwner сообщает LoggingMiddleware владельца запроса
func logOwner(ctx context.Context, owner string) {
	if sink, ok := ctx.Value(ownerSinkKey{}).(*string); ok {
		*sink = owner
	}
}
