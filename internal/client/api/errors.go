package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/iudanet/gophsync/internal/codec"
	pkgapi "github.com/iudanet/gophsync/pkg/api"
)

// Виды ошибок транспорта (для errors.Is)
var (
	// ErrNetwork сеть недоступна или relay временно перегружен, повторяется с backoff
	ErrNetwork = errors.New("network error")
	// ErrServer внутренняя ошибка relay
	ErrServer = errors.New("server error")
	// ErrPayment квота владельца на relay исчерпана
	ErrPayment = errors.New("payment required")
	// ErrAuthorization relay отклонил токен или ключ владельца
	ErrAuthorization = errors.New("authorization error")
	// ErrIntegrity relay хранит другую операцию с той же меткой
	ErrIntegrity = errors.New("remote integrity violation")
)

// StatusError ответ relay с кодом ошибки
type StatusError struct {
	Kind    error
	Code    string
	Message string
	Status  int
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("relay error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("relay error (%d): %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// kindFor классифицирует ответ relay
func kindFor(status int, code string) error {
	switch {
	case status == http.StatusPaymentRequired:
		return ErrPayment
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthorization
	case status == http.StatusConflict && code == pkgapi.CodeIntegrity:
		return ErrIntegrity
	case status == http.StatusConflict:
		return ErrAuthorization
	case status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout,
		status == http.StatusRequestTimeout:
		return ErrNetwork
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return codec.ErrProtocol
	default:
		return ErrServer
	}
}
