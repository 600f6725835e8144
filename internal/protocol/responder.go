package protocol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/fingerprint"
	"github.com/iudanet/gophsync/pkg/api"
)

// DefaultMaxPushBytes ограничение размера одной пачки RangePush
const DefaultMaxPushBytes = 4 << 20

// loadChunk сколько операций читается из хранилища за раз при сборке пачки
const loadChunk = 256

// ResponderOption настраивает Responder
type ResponderOption func(*Responder)

// WithMaxPushBytes задает бюджет одной пачки операций
func WithMaxPushBytes(n int) ResponderOption {
	return func(r *Responder) {
		if n > 0 {
			r.maxPushBytes = n
		}
	}
}

// Responder отвечающая сторона обмена (relay или второй пир).
type Responder struct {
	store        Store
	applier      Applier
	trees        *fingerprint.Cache
	logger       *slog.Logger
	maxPushBytes int
}

// NewResponder создает отвечающую сторону.
func NewResponder(store Store, applier Applier, trees *fingerprint.Cache, logger *slog.Logger, opts ...ResponderOption) *Responder {
	r := &Responder{
		store:        store,
		applier:      applier,
		trees:        trees,
		logger:       logger,
		maxPushBytes: DefaultMaxPushBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve разбирает кадр, обрабатывает его от имени владельца и кодирует ответ.
// owner владелец, подтвержденный транспортом; кадр чужого владельца отклоняется.
func (r *Responder) Serve(ctx context.Context, owner api.OwnerID, frame []byte) ([]byte, error) {
	msg, err := codec.DecodeMessage(frame)
	if err != nil {
		return nil, err
	}
	if msg.Owner != owner {
		return nil, codec.Errorf("owner", "message owner %s does not match %s", msg.Owner, owner)
	}

	resp, err := r.Handle(ctx, msg)
	if err != nil {
		return nil, err
	}
	return codec.EncodeMessage(resp)
}

// Handle отвечает на одно сообщение инициатора:
//   - Summary: сравнение с локальным деревом, ответ Summary;
//   - RangeRequest: операции, которых нет у инициатора, и список нужных нам меток;
//   - RangePush: слияние, ответ Summary с корнем после слияния.
func (r *Responder) Handle(ctx context.Context, msg *api.Message) (*api.Message, error) {
	switch msg.Kind {
	case api.KindSummary:
		return r.handleSummary(ctx, msg)
	case api.KindRangeRequest:
		return r.handleRangeRequest(ctx, msg)
	case api.KindRangePush:
		return r.handleRangePush(ctx, msg)
	default:
		return nil, codec.Errorf("kind", "unexpected message kind %s", msg.Kind)
	}
}

func (r *Responder) handleSummary(ctx context.Context, msg *api.Message) (*api.Message, error) {
	// Ответ может быть вдвое больше запроса
	if len(msg.Summary.Nodes) > api.MaxSummaryNodes/2 {
		return nil, codec.Errorf("summary", "%d nodes exceed request limit %d", len(msg.Summary.Nodes), api.MaxSummaryNodes/2)
	}

	tree, err := r.trees.Get(ctx, msg.Owner)
	if err != nil {
		return nil, err
	}

	nodes := tree.Respond(msg.Summary.Nodes)
	r.logger.DebugContext(ctx, "Summary compared",
		"owner_id", msg.Owner.String(),
		"requested", len(msg.Summary.Nodes),
		"differing", len(nodes),
	)
	return api.NewSummary(msg.Owner, nodes), nil
}

func (r *Responder) handleRangeRequest(ctx context.Context, msg *api.Message) (*api.Message, error) {
	tree, err := r.trees.Get(ctx, msg.Owner)
	if err != nil {
		return nil, err
	}

	var (
		have []api.TimestampBytes
		want []api.TimestampBytes
		more bool
	)
	for _, rng := range msg.RangeRequest.Ranges {
		known := make(map[api.TimestampBytes]struct{}, len(rng.Known))
		for _, ts := range rng.Known {
			if !rng.Prefix.Contains(ts) {
				return nil, codec.Errorf("known", "timestamp %s outside of range %s", ts, rng.Prefix)
			}
			known[ts] = struct{}{}
			if !tree.Contains(ts) {
				want = append(want, ts)
			}
		}
		for _, ts := range tree.Timestamps(rng.Prefix) {
			if _, ok := known[ts]; !ok {
				have = append(have, ts)
			}
		}
	}

	if len(want) > api.MaxTimestamps {
		// Остальное инициатор отдаст в следующем раунде
		want = want[:api.MaxTimestamps]
		more = true
	}

	pairs, truncated, err := r.collect(ctx, msg.Owner, have)
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "Range request served",
		"owner_id", msg.Owner.String(),
		"ranges", len(msg.RangeRequest.Ranges),
		"sent", len(pairs),
		"missing_on_peer", len(have),
		"want", len(want),
	)
	return api.NewRangePush(msg.Owner, pairs, want, more || truncated), nil
}

// collect собирает операции в пределах бюджета. Хотя бы одна операция
// отправляется всегда, иначе крупная операция никогда не прошла бы.
func (r *Responder) collect(ctx context.Context, owner api.OwnerID, timestamps []api.TimestampBytes) ([]api.OpPair, bool, error) {
	var (
		pairs []api.OpPair
		size  int
	)
	for start := 0; start < len(timestamps); start += loadChunk {
		end := min(start+loadChunk, len(timestamps))
		ops, err := r.store.Operations(ctx, owner, timestamps[start:end])
		if err != nil {
			return nil, false, fmt.Errorf("failed to load operations: %w", err)
		}
		if len(ops) != end-start {
			return nil, false, fmt.Errorf("fingerprint tree and operation log diverged for owner %s", owner)
		}
		for i, op := range ops {
			if len(pairs) > 0 && (size+op.Size() > r.maxPushBytes || len(pairs) == api.MaxTimestamps) {
				return pairs, true, nil
			}
			pairs = append(pairs, api.OpPair{Timestamp: op.Timestamp, Ciphertext: op.Ciphertext})
			size += op.Size()
			if start+i+1 < len(timestamps) && size >= r.maxPushBytes {
				return pairs, true, nil
			}
		}
	}
	return pairs, false, nil
}

func (r *Responder) handleRangePush(ctx context.Context, msg *api.Message) (*api.Message, error) {
	push := msg.RangePush
	if len(push.Want) > 0 {
		return nil, codec.Errorf("want", "initiator push must not request operations")
	}

	merged, err := Merge(ctx, r.store, r.applier, r.trees, msg.Owner, ToOperations(msg.Owner, push.Ops))
	if err != nil {
		if merged > 0 {
			r.logger.WarnContext(ctx, "Push merged partially",
				"owner_id", msg.Owner.String(),
				"merged", merged,
				"error", err,
			)
		}
		return nil, err
	}

	tree, err := r.trees.Get(ctx, msg.Owner)
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "Push merged",
		"owner_id", msg.Owner.String(),
		"received", len(push.Ops),
		"merged", merged,
	)
	return api.NewSummary(msg.Owner, []api.NodeHash{tree.NodeHash(api.RootPrefix())}), nil
}
