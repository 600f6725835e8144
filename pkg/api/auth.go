package api

// RegisterOwnerRequest регистрирует ключ записи владельца на relay.
// Первый записавший побеждает: повторная регистрация с другим ключом дает 409.
type RegisterOwnerRequest struct {
	OwnerID  string `json:"owner_id"`  // base64url OwnerID
	TokenKey string `json:"token_key"` // SHA256 хеш write key (hex-encoded)
}

// RegisterOwnerResponse ответ на регистрацию владельца
type RegisterOwnerResponse struct {
	OwnerID string `json:"owner_id"`
	Created bool   `json:"created"` // false, если владелец уже был зарегистрирован тем же ключом
}

// Коды ошибок в ErrorResponse.Code
const (
	CodeOwnerNotRegistered = "owner_not_registered"
	CodeInvalidToken       = "invalid_token"
	CodeOwnerMismatch      = "owner_mismatch"
	CodeQuotaExceeded      = "quota_exceeded"
	CodeProtocol           = "protocol_error"
	CodeIntegrity          = "integrity_error"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Code    string `json:"code,omitempty"`    // машинный код ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
