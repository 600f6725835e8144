package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/metrics"
	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/token"
	"github.com/iudanet/gophsync/pkg/api"
)

// AuthMiddleware создает middleware для проверки JWT токена владельца.
// Токен подписан SHA256(write key), зарегистрированным через /api/v1/owners.
func AuthMiddleware(logger *slog.Logger, owners storage.OwnerStorage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Ожидаем формат: "Bearer <token>"
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				logger.WarnContext(ctx, "Missing or malformed Authorization header")
				metrics.RejectedTotal.WithLabelValues("auth").Inc()
				handlers.SendError(w, logger, http.StatusUnauthorized, api.CodeInvalidToken, "missing bearer token")
				return
			}

			owner, err := token.Verify(parts[1], func(id api.OwnerID) ([]byte, error) {
				rec, err := owners.GetOwner(ctx, id)
				if err != nil {
					return nil, err
				}
				return crypto.ParseTokenKey(rec.TokenKey)
			})
			if err != nil {
				metrics.RejectedTotal.WithLabelValues("auth").Inc()
				switch {
				case errors.Is(err, storage.ErrOwnerNotFound):
					// Клиент зарегистрирует владельца и повторит запрос
					logger.InfoContext(ctx, "Token for unregistered owner")
					handlers.SendError(w, logger, http.StatusUnauthorized, api.CodeOwnerNotRegistered, "owner is not registered")
				case errors.Is(err, storage.ErrTransient):
					logger.ErrorContext(ctx, "Failed to load owner", "error", err)
					handlers.SendError(w, logger, http.StatusServiceUnavailable, api.CodeInternal, "try again later")
				default:
					logger.WarnContext(ctx, "Invalid access token", "error", err)
					handlers.SendError(w, logger, http.StatusUnauthorized, api.CodeInvalidToken, "invalid token")
				}
				return
			}

			logger.DebugContext(ctx, "Owner authenticated", "owner_id", owner.String())
			logOwner(ctx, owner.String())
			next.ServeHTTP(w, r.WithContext(handlers.WithOwner(ctx, owner)))
		})
	}
}
