package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/pkg/api"
)

// RecoveryMiddleware перехватывает panic обработчика и отвечает JSON ошибкой internal_error.
// Если запрос уже прошел аутентификацию, в лог попадает владелец.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// Прерванный клиентом ответ net/http обрабатывает сам
					if err == http.ErrAbortHandler {
						panic(err)
					}

					attrs := []any{
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
						"stack", string(debug.Stack()),
					}
					if owner, ok := handlers.GetOwner(r.Context()); ok {
						attrs = append(attrs, "owner_id", owner.String())
					}
					logger.Error("Panic recovered", attrs...)

					// Детали паники клиенту не отдаем
					handlers.SendError(w, logger, http.StatusInternalServerError, api.CodeInternal, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
