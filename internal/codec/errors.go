package codec

import (
	"errors"
	"fmt"
)

// ErrProtocol признак ошибок разбора протокола (для errors.Is).
var ErrProtocol = errors.New("protocol error")

// ProtocolError некорректные данные на проводе.
// Раунд, получивший такую ошибку, завершается без частичного слияния.
type ProtocolError struct {
	Field  string // поле, на котором остановился разбор
	Reason string
	Offset int // смещение в байтах от начала сообщения
}

func (e *ProtocolError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("protocol error at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("protocol error at offset %d (%s): %s", e.Offset, e.Field, e.Reason)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Errorf создает ProtocolError вне декодера (например, для семантических ошибок ответа).
func Errorf(field, format string, args ...any) *ProtocolError {
	return &ProtocolError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
