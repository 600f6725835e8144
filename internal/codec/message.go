package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/iudanet/gophsync/pkg/api"
)

const (
	summaryFlagLeaf byte = 1 << 0
	pushFlagMore    byte = 1 << 0

	headerSize = 1 + api.OwnerIDSize + 1
)

// EncodeMessage кодирует кадр протокола.
// Ошибка возвращается, если сообщение нарушает ограничения формата:
// такое сообщение все равно не было бы принято другой стороной.
func EncodeMessage(msg *api.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("failed to encode message: nil message")
	}
	if msg.Version != api.ProtocolVersion {
		return nil, fmt.Errorf("failed to encode message: unsupported version %d", msg.Version)
	}

	buf := make([]byte, 0, headerSize+64)
	buf = append(buf, msg.Version)
	buf = append(buf, msg.Owner[:]...)
	buf = append(buf, byte(msg.Kind))

	var err error
	switch msg.Kind {
	case api.KindSummary:
		if msg.Summary == nil {
			return nil, fmt.Errorf("failed to encode message: summary payload is nil")
		}
		buf, err = appendSummary(buf, msg.Summary)
	case api.KindRangeRequest:
		if msg.RangeRequest == nil {
			return nil, fmt.Errorf("failed to encode message: range request payload is nil")
		}
		buf, err = appendRangeRequest(buf, msg.RangeRequest)
	case api.KindRangePush:
		if msg.RangePush == nil {
			return nil, fmt.Errorf("failed to encode message: range push payload is nil")
		}
		buf, err = appendRangePush(buf, msg.RangePush)
	default:
		return nil, fmt.Errorf("failed to encode message: unknown kind %d", msg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Kind, err)
	}
	return buf, nil
}

func appendSummary(buf []byte, s *api.Summary) ([]byte, error) {
	if len(s.Nodes) > api.MaxSummaryNodes {
		return nil, fmt.Errorf("too many summary nodes: %d", len(s.Nodes))
	}
	buf = binary.AppendUvarint(buf, uint64(len(s.Nodes)))
	for _, node := range s.Nodes {
		var err error
		if buf, err = appendPrefix(buf, node.Prefix); err != nil {
			return nil, err
		}
		buf = append(buf, node.Hash[:]...)
		var flags byte
		if node.Leaf {
			flags |= summaryFlagLeaf
		}
		buf = append(buf, flags)
	}
	return buf, nil
}

func appendRangeRequest(buf []byte, r *api.RangeRequest) ([]byte, error) {
	if len(r.Ranges) > api.MaxRanges {
		return nil, fmt.Errorf("too many ranges: %d", len(r.Ranges))
	}
	buf = binary.AppendUvarint(buf, uint64(len(r.Ranges)))
	for _, rng := range r.Ranges {
		var err error
		if buf, err = appendPrefix(buf, rng.Prefix); err != nil {
			return nil, err
		}
		if buf, err = appendTimestamps(buf, rng.Known); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendRangePush(buf []byte, p *api.RangePush) ([]byte, error) {
	var flags byte
	if p.More {
		flags |= pushFlagMore
	}
	buf = append(buf, flags)

	if len(p.Ops) > api.MaxTimestamps {
		return nil, fmt.Errorf("too many operations: %d", len(p.Ops))
	}
	buf = binary.AppendUvarint(buf, uint64(len(p.Ops)))
	for _, op := range p.Ops {
		if len(op.Ciphertext) > api.MaxCiphertextSize {
			return nil, fmt.Errorf("ciphertext of %s too large: %d bytes", op.Timestamp, len(op.Ciphertext))
		}
		buf = append(buf, op.Timestamp[:]...)
		buf = binary.AppendUvarint(buf, uint64(len(op.Ciphertext)))
		buf = append(buf, op.Ciphertext...)
	}
	return appendTimestamps(buf, p.Want)
}

func appendPrefix(buf []byte, p api.Prefix) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	buf = append(buf, p.Len)
	return append(buf, p.Bits[:p.ByteLen()]...), nil
}

func appendTimestamps(buf []byte, list []api.TimestampBytes) ([]byte, error) {
	if len(list) > api.MaxTimestamps {
		return nil, fmt.Errorf("too many timestamps: %d", len(list))
	}
	buf = binary.AppendUvarint(buf, uint64(len(list)))
	for _, ts := range list {
		buf = append(buf, ts[:]...)
	}
	return buf, nil
}

// DecodeMessage разбирает кадр протокола целиком.
// Результат возвращается только при полностью успешном разборе;
// при ошибке возвращается *ProtocolError.
func DecodeMessage(data []byte) (*api.Message, error) {
	r := &reader{data: data}

	version, err := r.readByte("version")
	if err != nil {
		return nil, err
	}
	if version != api.ProtocolVersion {
		return nil, r.fail("version", "unknown version %d", version)
	}

	msg := &api.Message{Version: version}
	owner, err := r.readBytes("owner_id", api.OwnerIDSize)
	if err != nil {
		return nil, err
	}
	copy(msg.Owner[:], owner)

	kind, err := r.readByte("kind")
	if err != nil {
		return nil, err
	}
	msg.Kind = api.Kind(kind)

	switch msg.Kind {
	case api.KindSummary:
		msg.Summary, err = r.summary()
	case api.KindRangeRequest:
		msg.RangeRequest, err = r.rangeRequest()
	case api.KindRangePush:
		msg.RangePush, err = r.rangePush()
	default:
		return nil, &ProtocolError{Field: "kind", Reason: fmt.Sprintf("unknown kind %d", kind), Offset: r.pos - 1}
	}
	if err != nil {
		return nil, err
	}

	if r.remaining() != 0 {
		return nil, r.fail("payload", "%d trailing bytes", r.remaining())
	}
	return msg, nil
}

// reader последовательный разбор с учетом смещения для сообщений об ошибках
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) fail(field, format string, args ...any) *ProtocolError {
	return &ProtocolError{Field: field, Reason: fmt.Sprintf(format, args...), Offset: r.pos}
}

func (r *reader) readByte(field string) (byte, error) {
	if r.remaining() < 1 {
		return 0, r.fail(field, "truncated input")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(field string, n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, r.fail(field, "truncated input: need %d bytes, have %d", n, r.remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// count читает uvarint длину списка и проверяет ее по границе.
func (r *reader) count(field string, limit int) (int, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n == 0 {
		return 0, r.fail(field, "truncated input")
	}
	if n < 0 {
		return 0, r.fail(field, "varint overflow")
	}
	if v > uint64(limit) {
		return 0, r.fail(field, "value %d exceeds bound %d", v, limit)
	}
	r.pos += n
	return int(v), nil
}

func (r *reader) prefix() (api.Prefix, error) {
	var p api.Prefix
	bitLen, err := r.readByte("prefix")
	if err != nil {
		return p, err
	}
	if bitLen > api.MaxPrefixBits {
		return p, r.fail("prefix", "length %d exceeds %d bits", bitLen, api.MaxPrefixBits)
	}
	p.Len = bitLen
	raw, err := r.readBytes("prefix", p.ByteLen())
	if err != nil {
		return p, err
	}
	copy(p.Bits[:], raw)
	if err := p.Validate(); err != nil {
		return p, r.fail("prefix", "%v", err)
	}
	return p, nil
}

func (r *reader) timestamp(field string) (api.TimestampBytes, error) {
	var ts api.TimestampBytes
	raw, err := r.readBytes(field, api.TimestampSize)
	if err != nil {
		return ts, err
	}
	copy(ts[:], raw)
	return ts, nil
}

func (r *reader) timestamps(field string) ([]api.TimestampBytes, error) {
	n, err := r.count(field, api.MaxTimestamps)
	if err != nil {
		return nil, err
	}
	// Не доверяем длине до проверки остатка, чтобы не выделять лишнюю память
	if r.remaining() < n*api.TimestampSize {
		return nil, r.fail(field, "truncated input: %d timestamps declared", n)
	}
	list := make([]api.TimestampBytes, n)
	for i := range list {
		if list[i], err = r.timestamp(field); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *reader) summary() (*api.Summary, error) {
	n, err := r.count("summary", api.MaxSummaryNodes)
	if err != nil {
		return nil, err
	}
	s := &api.Summary{Nodes: make([]api.NodeHash, 0, n)}
	for i := 0; i < n; i++ {
		var node api.NodeHash
		if node.Prefix, err = r.prefix(); err != nil {
			return nil, err
		}
		hash, err := r.readBytes("hash", api.HashSize)
		if err != nil {
			return nil, err
		}
		copy(node.Hash[:], hash)

		flags, err := r.readByte("flags")
		if err != nil {
			return nil, err
		}
		if flags&^summaryFlagLeaf != 0 {
			return nil, r.fail("flags", "unknown summary flags %#x", flags)
		}
		node.Leaf = flags&summaryFlagLeaf != 0
		s.Nodes = append(s.Nodes, node)
	}
	return s, nil
}

func (r *reader) rangeRequest() (*api.RangeRequest, error) {
	n, err := r.count("ranges", api.MaxRanges)
	if err != nil {
		return nil, err
	}
	req := &api.RangeRequest{Ranges: make([]api.Range, 0, min(n, 1024))}
	for i := 0; i < n; i++ {
		var rng api.Range
		if rng.Prefix, err = r.prefix(); err != nil {
			return nil, err
		}
		if rng.Known, err = r.timestamps("known"); err != nil {
			return nil, err
		}
		req.Ranges = append(req.Ranges, rng)
	}
	return req, nil
}

func (r *reader) rangePush() (*api.RangePush, error) {
	flags, err := r.readByte("flags")
	if err != nil {
		return nil, err
	}
	if flags&^pushFlagMore != 0 {
		return nil, r.fail("flags", "unknown push flags %#x", flags)
	}
	push := &api.RangePush{More: flags&pushFlagMore != 0}

	n, err := r.count("ops", api.MaxTimestamps)
	if err != nil {
		return nil, err
	}
	push.Ops = make([]api.OpPair, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		var op api.OpPair
		if op.Timestamp, err = r.timestamp("op_timestamp"); err != nil {
			return nil, err
		}
		size, err := r.count("ciphertext", api.MaxCiphertextSize)
		if err != nil {
			return nil, err
		}
		raw, err := r.readBytes("ciphertext", size)
		if err != nil {
			return nil, err
		}
		// Копия, чтобы сообщение не держало весь входной буфер
		op.Ciphertext = make([]byte, size)
		copy(op.Ciphertext, raw)
		push.Ops = append(push.Ops, op)
	}

	if push.Want, err = r.timestamps("want"); err != nil {
		return nil, err
	}
	return push, nil
}
