package api

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// ProtocolVersion текущая версия бинарного протокола синхронизации
const ProtocolVersion byte = 1

const (
	// OwnerIDSize размер идентификатора владельца в байтах
	OwnerIDSize = 16
	// TimestampSize размер закодированной метки времени (millis 6 + counter 2 + node 8)
	TimestampSize = 16
	// HashSize размер отпечатка поддерева
	HashSize = 12
	// MaxPrefixBits максимальная длина префикса в битах
	MaxPrefixBits = TimestampSize * 8
)

// Ограничения на размеры полей сообщения
const (
	MaxSummaryNodes   = 4096
	MaxRanges         = 10000
	MaxTimestamps     = 65536
	MaxCiphertextSize = 1 << 20
)

// OwnerID идентификатор владельца данных (граница изоляции)
type OwnerID [OwnerIDSize]byte

// String возвращает base64url представление без паддинга.
func (o OwnerID) String() string {
	return base64.RawURLEncoding.EncodeToString(o[:])
}

// ParseOwnerID разбирает строковое представление OwnerID.
func ParseOwnerID(s string) (OwnerID, error) {
	var id OwnerID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid owner id %q: %w", s, err)
	}
	if len(raw) != OwnerIDSize {
		return id, fmt.Errorf("owner id must be %d bytes, got %d", OwnerIDSize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// TimestampBytes бинарная форма метки времени.
// Лексикографический порядок байтов совпадает с порядком меток.
type TimestampBytes [TimestampSize]byte

// String hex-представление
func (t TimestampBytes) String() string {
	return hex.EncodeToString(t[:])
}

// Hash отпечаток множества меток (XOR усеченных SHA-256)
type Hash [HashSize]byte

// IsZero true для пустого множества
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Xor добавляет (или убирает) отпечаток other.
func (h *Hash) Xor(other Hash) {
	for i := range h {
		h[i] ^= other[i]
	}
}

// Kind тип сообщения протокола
type Kind byte

const (
	KindSummary      Kind = 1
	KindRangeRequest Kind = 2
	KindRangePush    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindSummary:
		return "summary"
	case KindRangeRequest:
		return "range_request"
	case KindRangePush:
		return "range_push"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Prefix битовый префикс TimestampBytes.
// Биты за пределами Len всегда нулевые.
type Prefix struct {
	Bits [TimestampSize]byte
	Len  uint8
}

// RootPrefix пустой префикс (корень дерева)
func RootPrefix() Prefix {
	return Prefix{}
}

// PrefixOf возвращает первые n бит метки.
func PrefixOf(ts TimestampBytes, n uint8) Prefix {
	p := Prefix{Len: n}
	full := int(n) / 8
	copy(p.Bits[:full], ts[:full])
	if rem := n % 8; rem != 0 {
		p.Bits[full] = ts[full] & (0xff << (8 - rem))
	}
	return p
}

// Bit возвращает i-й бит метки (0 - старший бит первого байта).
func Bit(ts TimestampBytes, i uint8) byte {
	return (ts[i/8] >> (7 - i%8)) & 1
}

// Child возвращает дочерний префикс с добавленным битом.
func (p Prefix) Child(bit byte) Prefix {
	child := p
	if bit != 0 {
		child.Bits[p.Len/8] |= 0x80 >> (p.Len % 8)
	}
	child.Len++
	return child
}

// Contains проверяет, что метка начинается с префикса.
func (p Prefix) Contains(ts TimestampBytes) bool {
	return PrefixOf(ts, p.Len) == p
}

// ByteLen количество байт, занимаемых префиксом на проводе.
func (p Prefix) ByteLen() int {
	return (int(p.Len) + 7) / 8
}

// Validate проверяет длину и нулевые хвостовые биты.
func (p Prefix) Validate() error {
	if p.Len > MaxPrefixBits {
		return fmt.Errorf("prefix length %d exceeds %d bits", p.Len, MaxPrefixBits)
	}
	var ts TimestampBytes
	copy(ts[:], p.Bits[:])
	if PrefixOf(ts, p.Len) != p {
		return fmt.Errorf("prefix %s has non-zero bits past its length", p)
	}
	return nil
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", hex.EncodeToString(p.Bits[:p.ByteLen()]), p.Len)
}

// NodeHash узел сводки: префикс, его отпечаток и признак листа.
// Leaf означает, что отправитель не будет спускаться глубже и ждет обмена метками.
type NodeHash struct {
	Prefix Prefix
	Hash   Hash
	Leaf   bool
}

// Range запрос диапазона: префикс и метки, которые у запрашивающего уже есть.
type Range struct {
	Prefix Prefix
	Known  []TimestampBytes
}

// OpPair зашифрованная операция на проводе
type OpPair struct {
	Timestamp  TimestampBytes
	Ciphertext []byte
}

// Summary сводка отпечатков
type Summary struct {
	Nodes []NodeHash
}

// RangeRequest список расходящихся префиксов
type RangeRequest struct {
	Ranges []Range
}

// RangePush пачка операций и список меток, которые отправитель хочет получить.
// More означает, что пачка обрезана по размеру и есть продолжение.
type RangePush struct {
	Ops  []OpPair
	Want []TimestampBytes
	More bool
}

// Message кадр протокола. Заполнено ровно одно из полей Summary/RangeRequest/RangePush
// в соответствии с Kind.
type Message struct {
	Summary      *Summary
	RangeRequest *RangeRequest
	RangePush    *RangePush
	Owner        OwnerID
	Version      byte
	Kind         Kind
}

// NewSummary создает сообщение-сводку.
func NewSummary(owner OwnerID, nodes []NodeHash) *Message {
	return &Message{Version: ProtocolVersion, Owner: owner, Kind: KindSummary, Summary: &Summary{Nodes: nodes}}
}

// NewRangeRequest создает запрос диапазонов.
func NewRangeRequest(owner OwnerID, ranges []Range) *Message {
	return &Message{Version: ProtocolVersion, Owner: owner, Kind: KindRangeRequest, RangeRequest: &RangeRequest{Ranges: ranges}}
}

// NewRangePush создает пачку операций.
func NewRangePush(owner OwnerID, ops []OpPair, want []TimestampBytes, more bool) *Message {
	return &Message{
		Version:   ProtocolVersion,
		Owner:     owner,
		Kind:      KindRangePush,
		RangePush: &RangePush{Ops: ops, Want: want, More: more},
	}
}
