package codec

import (
	"encoding/binary"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/pkg/api"
)

// TimestampToBytes кодирует метку: millis (6 байт BE) || counter (2 байта BE) || node (8 байт).
func TimestampToBytes(t crdt.Timestamp) (api.TimestampBytes, error) {
	var b api.TimestampBytes
	if err := t.Validate(); err != nil {
		return b, err
	}

	var millis [8]byte
	binary.BigEndian.PutUint64(millis[:], uint64(t.Millis))
	copy(b[0:6], millis[2:])
	binary.BigEndian.PutUint16(b[6:8], t.Counter)
	copy(b[8:], t.Node[:])
	return b, nil
}

// MustTimestampToBytes как TimestampToBytes, но паникует на недопустимой метке.
// Только для меток, выданных Clock (они уже проверены).
func MustTimestampToBytes(t crdt.Timestamp) api.TimestampBytes {
	b, err := TimestampToBytes(t)
	if err != nil {
		panic(err)
	}
	return b
}

// BytesToTimestamp декодирует метку. Любые 16 байт являются корректной меткой,
// так как 48 бит millis всегда в диапазоне.
func BytesToTimestamp(b api.TimestampBytes) crdt.Timestamp {
	var millis [8]byte
	copy(millis[2:], b[0:6])

	t := crdt.Timestamp{
		Millis:  int64(binary.BigEndian.Uint64(millis[:])),
		Counter: binary.BigEndian.Uint16(b[6:8]),
	}
	copy(t.Node[:], b[8:])
	return t
}

// ParseTimestamp разбирает метку из среза произвольной длины.
func ParseTimestamp(raw []byte) (crdt.Timestamp, error) {
	if len(raw) != api.TimestampSize {
		return crdt.Timestamp{}, Errorf("timestamp", "expected %d bytes, got %d", api.TimestampSize, len(raw))
	}
	var b api.TimestampBytes
	copy(b[:], raw)
	return BytesToTimestamp(b), nil
}
