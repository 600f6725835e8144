package crdt

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// MaxMillis - максимальное значение millis (48 бит)
	MaxMillis int64 = 1<<48 - 1
	// MinMillis - минимальное значение millis
	MinMillis int64 = 0
	// MaxCounter - максимальное значение счетчика внутри одной миллисекунды (16 бит)
	MaxCounter = 1<<16 - 1
	// NodeIDSize - размер идентификатора узла в байтах
	NodeIDSize = 8
	// DefaultMaxDrift - допустимое опережение времени удаленного/локального узла
	DefaultMaxDrift = 5 * time.Minute
)

// NodeID уникальный идентификатор устройства (узла)
type NodeID [NodeIDSize]byte

// NewNodeID генерирует новый случайный идентификатор узла.
func NewNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NodeID{}, fmt.Errorf("failed to generate node id: %w", err)
	}
	return id, nil
}

// ParseNodeID разбирает hex-представление идентификатора узла.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	if len(raw) != NodeIDSize {
		return id, fmt.Errorf("node id must be %d bytes, got %d", NodeIDSize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String возвращает hex-представление (16 символов).
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// Timestamp гибридная логическая метка времени (HLC).
// Порядок: Millis, затем Counter, затем Node (только tie-break).
type Timestamp struct {
	Millis  int64
	Counter uint16
	Node    NodeID
}

// Compare сравнивает две метки: -1 если t < other, 0 если равны, 1 если t > other.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Millis < other.Millis:
		return -1
	case t.Millis > other.Millis:
		return 1
	case t.Counter < other.Counter:
		return -1
	case t.Counter > other.Counter:
		return 1
	}
	return bytes.Compare(t.Node[:], other.Node[:])
}

// Less возвращает true, если t строго меньше other.
func (t Timestamp) Less(other Timestamp) bool {
	return t.Compare(other) < 0
}

// Equal возвращает true для полностью совпадающих меток.
func (t Timestamp) Equal(other Timestamp) bool {
	return t == other
}

// IsZero проверяет, что метка не инициализирована.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

// Validate проверяет диапазон millis.
func (t Timestamp) Validate() error {
	if t.Millis < MinMillis || t.Millis > MaxMillis {
		return &TimeOutOfRangeError{Millis: t.Millis}
	}
	return nil
}

// String формат: RFC3339 время, счетчик и узел.
func (t Timestamp) String() string {
	return fmt.Sprintf("%s-%04x-%s",
		time.UnixMilli(t.Millis).UTC().Format("2006-01-02T15:04:05.000Z"), t.Counter, t.Node)
}

// TimeSource источник текущего времени в миллисекундах.
type TimeSource func() int64

// SystemTime возвращает системное время в миллисекундах.
func SystemTime() int64 {
	return time.Now().UnixMilli()
}
