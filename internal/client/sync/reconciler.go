// Package sync выполняет раунды синхронизации реплики с relay (или другим пиром)
// и планирует их в отдельном Worker.
package sync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	gosync "sync"
	"time"

	"github.com/iudanet/gophsync/internal/client/syncstate"
	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/fingerprint"
	"github.com/iudanet/gophsync/internal/protocol"
	"github.com/iudanet/gophsync/pkg/api"
)

// Значения бюджета раунда по умолчанию
const (
	DefaultMaxRoundBytes = 16 << 20
	DefaultMaxPushBytes  = 4 << 20
)

// summaryChunk сколько узлов отправлять в одной сводке: ответ может быть вдвое больше
const summaryChunk = api.MaxSummaryNodes / 2

// Transport отправляет кадр протокола владельца и возвращает кадр ответа
type Transport interface {
	Send(ctx context.Context, owner api.OwnerID, frame []byte) ([]byte, error)
}

// WriteTracker счетчик локальных записей владельца
type WriteTracker interface {
	Generation(owner api.OwnerID) uint64
}

// Observer получает переходы состояния синхронизации
type Observer interface {
	OnSyncState(owner api.OwnerID, state syncstate.State)
}

// Phase фаза раунда
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLocking
	PhaseExchanging
	PhaseMerging
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLocking:
		return "locking"
	case PhaseExchanging:
		return "exchanging"
	case PhaseMerging:
		return "merging"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config параметры раунда
type Config struct {
	MaxRoundBytes int // суммарный объем принятых и отправленных операций за раунд
	MaxPushBytes  int // размер одной отправляемой пачки
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{MaxRoundBytes: DefaultMaxRoundBytes, MaxPushBytes: DefaultMaxPushBytes}
}

// RoundResult contains sync round results
type RoundResult struct {
	Duration time.Duration
	Received int  // количество полученных операций
	Merged   int  // количество новых операций среди полученных
	Sent     int  // количество отправленных операций
	Synced   bool // корни совпали и не было локальных записей во время раунда
}

// Reconciler выполняет раунды синхронизации
type Reconciler struct {
	store     protocol.Store
	applier   protocol.Applier
	trees     *fingerprint.Cache
	transport Transport
	lock      Lock
	writes    WriteTracker
	observer  Observer
	logger    *slog.Logger
	phases    map[api.OwnerID]Phase
	cfg       Config
	mu        gosync.Mutex
}

// NewReconciler creates a new reconciler
func NewReconciler(
	store protocol.Store,
	applier protocol.Applier,
	trees *fingerprint.Cache,
	transport Transport,
	lock Lock,
	writes WriteTracker,
	observer Observer,
	cfg Config,
	logger *slog.Logger,
) *Reconciler {
	if cfg.MaxRoundBytes <= 0 {
		cfg.MaxRoundBytes = DefaultMaxRoundBytes
	}
	if cfg.MaxPushBytes <= 0 {
		cfg.MaxPushBytes = DefaultMaxPushBytes
	}
	return &Reconciler{
		store:     store,
		applier:   applier,
		trees:     trees,
		transport: transport,
		lock:      lock,
		writes:    writes,
		observer:  observer,
		logger:    logger,
		phases:    make(map[api.OwnerID]Phase),
		cfg:       cfg,
	}
}

// Phase возвращает текущую фазу раунда владельца
func (r *Reconciler) Phase(owner api.OwnerID) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.phases[owner]
}

func (r *Reconciler) setPhase(owner api.OwnerID, phase Phase) {
	r.mu.Lock()
	if phase == PhaseIdle {
		delete(r.phases, owner)
	} else {
		r.phases[owner] = phase
	}
	r.mu.Unlock()

	r.logger.Debug("Sync phase", "owner_id", owner.String(), "phase", phase.String())
}

// Round выполняет один раунд синхронизации владельца.
// Если раунд для владельца уже идет, возвращает ErrLockUnavailable, ничего не меняя.
// Блокировка освобождается на любом пути выхода, включая панику и отмену.
func (r *Reconciler) Round(ctx context.Context, owner api.OwnerID) (result *RoundResult, err error) {
	// Фаза принадлежит раунду, владеющему блокировкой: пропущенная попытка ее не трогает
	release, ok := r.lock.TryLock(owner)
	if !ok {
		return nil, ErrLockUnavailable
	}
	r.setPhase(owner, PhaseLocking)

	started := time.Now()
	r.observer.OnSyncState(owner, syncstate.State{Kind: syncstate.Syncing})
	r.logger.InfoContext(ctx, "Starting synchronization", "owner_id", owner.String())

	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("%w: %v", ErrRoundPanic, p)
			// Дерево могло остаться в несогласованном состоянии, перестроим из журнала
			r.trees.Invalidate(owner)
		}
		release()

		if err != nil {
			r.setPhase(owner, PhaseFailed)
			r.observer.OnSyncState(owner, syncstate.State{Kind: syncstate.NotSynced, Reason: err})
			r.logger.WarnContext(ctx, "Synchronization failed",
				"owner_id", owner.String(),
				"class", Classify(err).String(),
				"error", err,
			)
			r.setPhase(owner, PhaseIdle)
			return
		}

		result.Duration = time.Since(started)
		// Незавершенный раунд без ошибки не сбой: владелец остается в Syncing до следующего раунда
		if result.Synced {
			r.observer.OnSyncState(owner, syncstate.State{Kind: syncstate.Synced})
		}
		r.logger.InfoContext(ctx, "Synchronization completed",
			"owner_id", owner.String(),
			"received", result.Received,
			"merged", result.Merged,
			"sent", result.Sent,
			"synced", result.Synced,
			"duration", result.Duration,
		)
		r.setPhase(owner, PhaseIdle)
	}()

	result = &RoundResult{}
	if err := r.round(ctx, owner, result); err != nil {
		return nil, err
	}
	return result, nil
}

// budget учет объема раунда
type budget struct {
	limit int
	spent int
}

func (b *budget) spend(n int)     { b.spent += n }
func (b *budget) exhausted() bool { return b.spent >= b.limit }
func (b *budget) fits(n int) bool { return b.spent+n <= b.limit }

func (r *Reconciler) round(ctx context.Context, owner api.OwnerID, result *RoundResult) error {
	generation := r.writes.Generation(owner)

	tree, err := r.trees.Get(ctx, owner)
	if err != nil {
		return err
	}

	b := &budget{limit: r.cfg.MaxRoundBytes}
	want := make(map[api.TimestampBytes]struct{})

	// 1. Сужение и прием операций. После каждой страницы сужение повторяется:
	// уже полученные диапазоны совпадут и отпадут, списки known остаются короткими.
	pulled := false
	for !pulled {
		r.setPhase(owner, PhaseExchanging)
		leaves, err := r.narrow(ctx, owner, tree)
		if err != nil {
			return err
		}

		wanted := len(want)
		more, merged, err := r.pull(ctx, owner, tree, leaves, want, b, result)
		if err != nil {
			return err
		}
		if !more {
			pulled = true
			continue
		}
		if b.exhausted() {
			r.logger.DebugContext(ctx, "Round budget exhausted while receiving", "owner_id", owner.String())
			break
		}
		if merged == 0 && len(want) == wanted {
			// Другая сторона ждет наших операций: продолжим после отправки, в следующем раунде
			break
		}
	}

	// 2. Отправка операций, которых нет у другой стороны
	pushed, relayRoot, err := r.push(ctx, owner, want, b, result)
	if err != nil {
		return err
	}

	// 3. Проверка: корни совпали и во время раунда не было локальных записей
	var converged bool
	if relayRoot != nil {
		converged = *relayRoot == tree.Root()
	} else {
		converged, err = r.verify(ctx, owner, tree)
		if err != nil {
			return err
		}
	}

	result.Synced = pulled && pushed && converged && r.writes.Generation(owner) == generation
	return nil
}

// exchange отправляет сообщение и проверяет заголовок ответа
func (r *Reconciler) exchange(ctx context.Context, owner api.OwnerID, msg *api.Message, expect api.Kind) (*api.Message, error) {
	frame, err := codec.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}

	raw, err := r.transport.Send(ctx, owner, frame)
	if err != nil {
		return nil, err
	}

	resp, err := codec.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	if resp.Owner != owner {
		return nil, codec.Errorf("owner", "response for owner %s, expected %s", resp.Owner, owner)
	}
	if resp.Kind != expect {
		return nil, codec.Errorf("kind", "response kind %s, expected %s", resp.Kind, expect)
	}
	return resp, nil
}

// narrow сравнивает деревья от корня и возвращает расходящиеся листовые диапазоны
func (r *Reconciler) narrow(ctx context.Context, owner api.OwnerID, tree *fingerprint.Tree) ([]api.Prefix, error) {
	var leaves []api.Prefix
	frontier := []api.NodeHash{tree.NodeHash(api.RootPrefix())}

	for len(frontier) > 0 {
		var next []api.NodeHash
		for start := 0; start < len(frontier); start += summaryChunk {
			end := min(start+summaryChunk, len(frontier))

			resp, err := r.exchange(ctx, owner, api.NewSummary(owner, frontier[start:end]), api.KindSummary)
			if err != nil {
				return nil, err
			}
			step := tree.Narrow(resp.Summary.Nodes)
			leaves = append(leaves, step.Leaves...)
			next = append(next, step.Next...)
		}
		frontier = next
	}
	return leaves, nil
}

// batchRanges делит диапазоны на запросы в пределах ограничений сообщения
func batchRanges(tree *fingerprint.Tree, leaves []api.Prefix) [][]api.Range {
	var (
		batches [][]api.Range
		current []api.Range
		known   int
	)
	for _, p := range leaves {
		rng := api.Range{Prefix: p, Known: tree.Timestamps(p)}
		if len(current) > 0 && (len(current) == api.MaxRanges || known+len(rng.Known) > api.MaxTimestamps) {
			batches = append(batches, current)
			current, known = nil, 0
		}
		current = append(current, rng)
		known += len(rng.Known)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// pull запрашивает диапазоны и сливает полученные операции.
// Возвращает true, если другая сторона сообщила о продолжении, и число новых операций.
func (r *Reconciler) pull(
	ctx context.Context,
	owner api.OwnerID,
	tree *fingerprint.Tree,
	leaves []api.Prefix,
	want map[api.TimestampBytes]struct{},
	b *budget,
	result *RoundResult,
) (bool, int, error) {
	var (
		more  bool
		total int
	)
	for _, batch := range batchRanges(tree, leaves) {
		if b.exhausted() {
			return true, total, nil
		}

		resp, err := r.exchange(ctx, owner, api.NewRangeRequest(owner, batch), api.KindRangePush)
		if err != nil {
			return false, total, err
		}
		push := resp.RangePush

		r.setPhase(owner, PhaseMerging)
		merged, err := protocol.Merge(ctx, r.store, r.applier, r.trees, owner, protocol.ToOperations(owner, push.Ops))
		result.Merged += merged
		total += merged
		if err != nil {
			return false, total, err
		}
		r.setPhase(owner, PhaseExchanging)

		result.Received += len(push.Ops)
		for _, op := range push.Ops {
			b.spend(api.TimestampSize + len(op.Ciphertext))
		}
		for _, ts := range push.Want {
			want[ts] = struct{}{}
		}

		if push.More {
			if len(push.Ops) > 0 && merged == 0 {
				return false, total, codec.Errorf("ops", "peer repeated known operations")
			}
			more = true
		}
	}
	return more, total, nil
}

// push отправляет операции, которые запросила другая сторона.
// Возвращает false, если бюджет раунда не позволил отправить все, и корень
// другой стороны из ответа на последнюю пачку.
func (r *Reconciler) push(
	ctx context.Context,
	owner api.OwnerID,
	want map[api.TimestampBytes]struct{},
	b *budget,
	result *RoundResult,
) (bool, *api.Hash, error) {
	if len(want) == 0 {
		return true, nil, nil
	}

	timestamps := make([]api.TimestampBytes, 0, len(want))
	for ts := range want {
		timestamps = append(timestamps, ts)
	}
	slices.SortFunc(timestamps, func(a, b api.TimestampBytes) int { return bytes.Compare(a[:], b[:]) })

	ops, err := r.store.Operations(ctx, owner, timestamps)
	if err != nil {
		return false, nil, fmt.Errorf("failed to load operations for push: %w", err)
	}

	var root *api.Hash
	for len(ops) > 0 {
		if b.exhausted() {
			return false, root, nil
		}

		var (
			page []api.OpPair
			size int
		)
		// Первая операция страницы отправляется всегда, иначе крупная операция не прошла бы никогда
		for len(ops) > 0 && len(page) < api.MaxTimestamps {
			next := size + ops[0].Size()
			if len(page) > 0 && (next > r.cfg.MaxPushBytes || !b.fits(next)) {
				break
			}
			page = append(page, api.OpPair{Timestamp: ops[0].Timestamp, Ciphertext: ops[0].Ciphertext})
			size = next
			ops = ops[1:]
		}

		resp, err := r.exchange(ctx, owner, api.NewRangePush(owner, page, nil, len(ops) > 0), api.KindSummary)
		if err != nil {
			return false, nil, err
		}
		b.spend(size)
		result.Sent += len(page)

		if len(resp.Summary.Nodes) != 1 || resp.Summary.Nodes[0].Prefix != api.RootPrefix() {
			return false, nil, codec.Errorf("summary", "push response must carry the root only")
		}
		hash := resp.Summary.Nodes[0].Hash
		root = &hash
	}
	return true, root, nil
}

// verify сравнивает корень с другой стороной
func (r *Reconciler) verify(ctx context.Context, owner api.OwnerID, tree *fingerprint.Tree) (bool, error) {
	resp, err := r.exchange(ctx, owner, api.NewSummary(owner, []api.NodeHash{tree.NodeHash(api.RootPrefix())}), api.KindSummary)
	if err != nil {
		return false, err
	}
	return len(resp.Summary.Nodes) == 0, nil
}
