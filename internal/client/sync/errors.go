package sync

import (
	"context"
	"errors"

	clientapi "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
)

var (
	// ErrLockUnavailable раунд для владельца уже выполняется, новый пропущен
	ErrLockUnavailable = errors.New("sync lock unavailable")
	// ErrRoundPanic раунд прерван нарушением внутреннего инварианта
	ErrRoundPanic = errors.New("sync round aborted")
	// ErrWorkerStopped Worker остановлен
	ErrWorkerStopped = errors.New("sync worker stopped")
)

// Class класс ошибки раунда для политики повторов
type Class int

const (
	// Halting ошибка сообщается, автоматический повтор не выполняется до явного запроса
	Halting Class = iota
	// Retryable ошибка временная, раунд повторяется с экспоненциальной задержкой
	Retryable
	// Canceled раунд отменен вызывающим
	Canceled
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Canceled:
		return "canceled"
	default:
		return "halting"
	}
}

// Classify определяет класс ошибки раунда.
// Сетевые и временные ошибки хранилища повторяются; ошибки протокола,
// сервера, оплаты, авторизации, часов, целостности и расшифровки нет.
func Classify(err error) Class {
	switch {
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, clientapi.ErrNetwork),
		errors.Is(err, storage.ErrTransient):
		return Retryable
	default:
		return Halting
	}
}
