package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/metrics"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// DefaultMaxBodyBytes ограничение тела кадра протокола
const DefaultMaxBodyBytes = 64 << 20

// Server отвечает на кадры протокола (protocol.Responder)
type Server interface {
	Serve(ctx context.Context, owner api.OwnerID, frame []byte) ([]byte, error)
}

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger  *slog.Logger
	server  Server
	maxBody int64
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, server Server, maxBody int64) *SyncHandler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &SyncHandler{
		logger:  logger,
		server:  server,
		maxBody: maxBody,
	}
}

// HandleSync обрабатывает POST /api/v1/sync: один кадр запроса, один кадр ответа
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Владелец установлен AuthMiddleware
	owner, ok := GetOwner(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "owner not found in context")
		SendError(w, h.logger, http.StatusUnauthorized, api.CodeInvalidToken, "unauthorized")
		return
	}

	frame, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RejectedTotal.WithLabelValues("protocol").Inc()
			SendError(w, h.logger, http.StatusRequestEntityTooLarge, api.CodeProtocol,
				"frame exceeds "+strconv.FormatInt(h.maxBody, 10)+" bytes")
			return
		}
		h.logger.WarnContext(ctx, "failed to read sync request", slog.Any("error", err))
		SendError(w, h.logger, http.StatusBadRequest, api.CodeProtocol, "failed to read body")
		return
	}

	kind := frameKind(frame)
	resp, err := h.server.Serve(ctx, owner, frame)
	if err != nil {
		status, code := statusFor(err)
		metrics.MessagesTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "sync request failed",
				slog.String("owner_id", owner.String()),
				slog.String("kind", kind),
				slog.Any("error", err))
			SendError(w, h.logger, status, code, "internal server error")
			return
		}

		h.logger.WarnContext(ctx, "sync request rejected",
			slog.String("owner_id", owner.String()),
			slog.String("kind", kind),
			slog.Any("error", err))
		metrics.RejectedTotal.WithLabelValues(reasonFor(code)).Inc()
		SendError(w, h.logger, status, code, err.Error())
		return
	}

	metrics.MessagesTotal.WithLabelValues(kind, strconv.Itoa(http.StatusOK)).Inc()
	w.Header().Set("Content-Type", api.ContentTypeProtocol)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		h.logger.WarnContext(ctx, "failed to write sync response", slog.Any("error", err))
	}
}

// frameKind тип сообщения для метрик и логов, без полного разбора кадра
func frameKind(frame []byte) string {
	const kindOffset = 1 + api.OwnerIDSize
	if len(frame) <= kindOffset {
		return "unknown"
	}
	return api.Kind(frame[kindOffset]).String()
}

// statusFor отображает ошибку обработки кадра в HTTP статус и код ошибки
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, codec.ErrProtocol):
		return http.StatusBadRequest, api.CodeProtocol
	case errors.Is(err, storage.ErrQuotaExceeded):
		return http.StatusPaymentRequired, api.CodeQuotaExceeded
	case errors.Is(err, storage.ErrIntegrity):
		return http.StatusConflict, api.CodeIntegrity
	case errors.Is(err, storage.ErrOwnerNotFound):
		return http.StatusUnauthorized, api.CodeOwnerNotRegistered
	case errors.Is(err, storage.ErrTransient),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, api.CodeInternal
	default:
		return http.StatusInternalServerError, api.CodeInternal
	}
}

func reasonFor(code string) string {
	switch code {
	case api.CodeQuotaExceeded:
		return "quota"
	case api.CodeIntegrity:
		return "integrity"
	case api.CodeOwnerNotRegistered:
		return "auth"
	default:
		return "protocol"
	}
}
