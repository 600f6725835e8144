package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// maxRegisterBody ограничение тела запроса регистрации
const maxRegisterBody = 4 << 10

// OwnersHandler обрабатывает регистрацию владельцев
type OwnersHandler struct {
	logger *slog.Logger
	owners storage.OwnerStorage
}

// NewOwnersHandler создает новый handler для регистрации владельцев
func NewOwnersHandler(logger *slog.Logger, owners storage.OwnerStorage) *OwnersHandler {
	return &OwnersHandler{
		logger: logger,
		owners: owners,
	}
}

// Register обрабатывает POST /api/v1/owners.
// Первый записавший побеждает: тот же ключ дает 200, другой ключ 409.
func (h *OwnersHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RegisterOwnerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode register owner request", slog.Any("error", err))
		SendError(w, h.logger, http.StatusBadRequest, api.CodeProtocol, "invalid request body")
		return
	}

	owner, err := api.ParseOwnerID(req.OwnerID)
	if err != nil {
		SendError(w, h.logger, http.StatusBadRequest, api.CodeProtocol, err.Error())
		return
	}
	// Ключ хранится в hex: проверяем формат, чтобы потом не падать на каждом токене
	if _, err := crypto.ParseTokenKey(req.TokenKey); err != nil {
		SendError(w, h.logger, http.StatusBadRequest, api.CodeProtocol, "token_key must be a hex encoded SHA256 hash")
		return
	}

	created, err := h.owners.RegisterOwner(ctx, &models.RelayOwner{
		ID:        owner,
		TokenKey:  req.TokenKey,
		CreatedAt: time.Now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrOwnerMismatch) {
			h.logger.WarnContext(ctx, "owner registered with another key", slog.String("owner_id", owner.String()))
			SendError(w, h.logger, http.StatusConflict, api.CodeOwnerMismatch, "owner already registered")
			return
		}
		h.logger.ErrorContext(ctx, "failed to register owner", slog.Any("error", err))
		SendError(w, h.logger, http.StatusInternalServerError, api.CodeInternal, "internal server error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.InfoContext(ctx, "owner registered", slog.String("owner_id", owner.String()))
	}
	SendJSON(w, h.logger, api.RegisterOwnerResponse{OwnerID: owner.String(), Created: created}, status)
}
