package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophsync/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

// OwnerKey ключ для хранения владельца, проверенного AuthMiddleware
const OwnerKey contextKey = "owner_id"

// WithOwner добавляет владельца в контекст запроса
func WithOwner(ctx context.Context, owner api.OwnerID) context.Context {
	return context.WithValue(ctx, OwnerKey, owner)
}

// GetOwner извлекает владельца из контекста запроса
func GetOwner(ctx context.Context) (api.OwnerID, bool) {
	owner, ok := ctx.Value(OwnerKey).(api.OwnerID)
	return owner, ok
}

// SendJSON отправляет JSON ответ
func SendJSON(w http.ResponseWriter, logger *slog.Logger, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// SendError отправляет JSON ответ с ошибкой и машинным кодом
func SendError(w http.ResponseWriter, logger *slog.Logger, statusCode int, code, message string) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    code,
		Message: message,
	}
	SendJSON(w, logger, resp, statusCode)
}
