package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/gophsync/pkg/api"
)

// Значения Worker по умолчанию
const (
	DefaultInterval      = 30 * time.Second
	DefaultMaxConcurrent = 4
)

// ErrWorkerRunning Run вызван повторно
var ErrWorkerRunning = errors.New("sync worker already running")

// Rounder выполняет один раунд синхронизации владельца
type Rounder interface {
	Round(ctx context.Context, owner api.OwnerID) (*RoundResult, error)
}

// WorkerOption настройка Worker
type WorkerOption func(*Worker)

// WithInterval задает период фоновой синхронизации наблюдаемых владельцев
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBackOff задает фабрику политики повторов для временных ошибок.
// Политика создается отдельно для каждого владельца.
func WithBackOff(factory func() backoff.BackOff) WorkerOption {
	return func(w *Worker) {
		if factory != nil {
			w.newBackOff = factory
		}
	}
}

// WithMaxConcurrent ограничивает число одновременных раундов
func WithMaxConcurrent(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxConcurrent = n
		}
	}
}

// DefaultBackOff экспоненциальная задержка от секунды до пяти минут без ограничения общего времени
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	return b
}

type commandKind int

const (
	commandSync commandKind = iota
	commandWatch
	commandUnwatch
)

type reply struct {
	result *RoundResult
	err    error
}

type command struct {
	reply chan reply // nil для Trigger
	id    uuid.UUID
	kind  commandKind
	owner api.OwnerID
}

type roundDone struct {
	result *RoundResult
	err    error
	id     uuid.UUID
	owner  api.OwnerID
}

// ownerState состояние планировщика для владельца. Меняется только в цикле Run.
type ownerState struct {
	backoff backoff.BackOff
	retry   *time.Timer
	pending []uuid.UUID // ожидающие SyncNow, привязываются к следующему раунду
	running bool
	rerun   bool
	halted  bool
	watched bool
}

// Worker планирует раунды синхронизации в отдельном контексте исполнения.
// Вызывающие общаются с ним только через команды; запись данных никогда не ждет раунда.
type Worker struct {
	rounder    Rounder
	logger     *slog.Logger
	newBackOff func() backoff.BackOff

	commands chan command
	signal   chan struct{}
	stopped  chan struct{}
	dirty    map[api.OwnerID]struct{}

	interval      time.Duration
	maxConcurrent int
	mu            gosync.Mutex
	started       bool
}

// NewWorker creates a new sync worker
func NewWorker(rounder Rounder, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		rounder:       rounder,
		logger:        logger,
		newBackOff:    DefaultBackOff,
		commands:      make(chan command, 64),
		signal:        make(chan struct{}, 1),
		stopped:       make(chan struct{}),
		dirty:         make(map[api.OwnerID]struct{}),
		interval:      DefaultInterval,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NotifyWrite сообщает о локальной записи. Не блокируется: уведомления
// об одном владельце схлопываются в один раунд. Остановленные ошибкой
// владельцы не запускаются до явного SyncNow или Trigger.
func (w *Worker) NotifyWrite(owner api.OwnerID) {
	w.mu.Lock()
	w.dirty[owner] = struct{}{}
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Trigger явно запрашивает раунд, снимая остановку после ошибки, без ожидания результата
func (w *Worker) Trigger(owner api.OwnerID) {
	_ = w.send(context.Background(), command{kind: commandSync, owner: owner})
}

// Watch включает периодическую синхронизацию владельца и запускает раунд
func (w *Worker) Watch(owner api.OwnerID) {
	_ = w.send(context.Background(), command{kind: commandWatch, owner: owner})
}

// Unwatch выключает периодическую синхронизацию владельца
func (w *Worker) Unwatch(owner api.OwnerID) {
	_ = w.send(context.Background(), command{kind: commandUnwatch, owner: owner})
}

// SyncNow запрашивает раунд и ждет его результата.
// Раунд, уже идущий в момент вызова, не считается: ответ дает следующий.
func (w *Worker) SyncNow(ctx context.Context, owner api.OwnerID) (*RoundResult, error) {
	cmd := command{
		kind:  commandSync,
		owner: owner,
		id:    uuid.New(),
		reply: make(chan reply, 1),
	}
	if err := w.send(ctx, cmd); err != nil {
		return nil, err
	}

	select {
	case r := <-cmd.reply:
		return r.result, r.err
	case <-w.stopped:
		select {
		case r := <-cmd.reply:
			return r.result, r.err
		default:
			return nil, ErrWorkerStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stopped закрывается после завершения Run
func (w *Worker) Stopped() <-chan struct{} {
	return w.stopped
}

func (w *Worker) send(ctx context.Context, cmd command) error {
	select {
	case w.commands <- cmd:
		return nil
	case <-w.stopped:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop состояние цикла Run
type loop struct {
	owners  map[api.OwnerID]*ownerState
	waiters map[uuid.UUID]chan reply  // ожидающие SyncNow по id запроса
	rounds  map[uuid.UUID][]uuid.UUID // id раунда -> id запросов, которым он ответит
	queue   []api.OwnerID
}

func (w *Worker) state(l *loop, owner api.OwnerID) *ownerState {
	st, ok := l.owners[owner]
	if !ok {
		st = &ownerState{backoff: w.newBackOff()}
		l.owners[owner] = st
	}
	return st
}

func (l *loop) enqueue(owner api.OwnerID) {
	for _, queued := range l.queue {
		if queued == owner {
			return
		}
	}
	l.queue = append(l.queue, owner)
}

// Run выполняет цикл планировщика до отмены ctx. Идущие раунды получают
// отмененный контекст; Run возвращается после их завершения.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrWorkerRunning
	}
	w.started = true
	w.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(w.maxConcurrent)
	done := make(chan roundDone)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	l := &loop{
		owners:  make(map[api.OwnerID]*ownerState),
		waiters: make(map[uuid.UUID]chan reply),
		rounds:  make(map[uuid.UUID][]uuid.UUID),
	}

	w.logger.Info("Sync worker started", "interval", w.interval, "max_concurrent", w.maxConcurrent)

	for {
		select {
		case <-ctx.Done():
			w.shutdown(ctx, &g, done, l)
			return nil
		case cmd := <-w.commands:
			w.handle(l, cmd)
		case <-w.signal:
			w.takeDirty(l)
		case <-ticker.C:
			for owner, st := range l.owners {
				if st.watched && !st.halted {
					l.enqueue(owner)
				}
			}
		case d := <-done:
			w.finish(l, d)
		}
		w.startQueued(ctx, l, &g, done)
	}
}

func (w *Worker) handle(l *loop, cmd command) {
	st := w.state(l, cmd.owner)

	switch cmd.kind {
	case commandSync:
		st.halted = false
		if cmd.reply != nil {
			l.waiters[cmd.id] = cmd.reply
			st.pending = append(st.pending, cmd.id)
		}
		l.enqueue(cmd.owner)
	case commandWatch:
		st.watched = true
		if !st.halted {
			l.enqueue(cmd.owner)
		}
	case commandUnwatch:
		st.watched = false
	}
}

func (w *Worker) takeDirty(l *loop) {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = make(map[api.OwnerID]struct{})
	w.mu.Unlock()

	for owner := range dirty {
		if st := w.state(l, owner); !st.halted {
			l.enqueue(owner)
		}
	}
}

// startQueued запускает раунды из очереди в пределах лимита.
// Владелец с идущим раундом получает повтор после его завершения.
func (w *Worker) startQueued(ctx context.Context, l *loop, g *errgroup.Group, done chan<- roundDone) {
	for len(l.queue) > 0 {
		owner := l.queue[0]
		st := w.state(l, owner)
		if st.running {
			st.rerun = true
			l.queue = l.queue[1:]
			continue
		}

		id := uuid.New()
		started := g.TryGo(func() error {
			result, err := w.rounder.Round(ctx, owner)
			done <- roundDone{owner: owner, id: id, result: result, err: err}
			return nil
		})
		if !started {
			// Лимит исчерпан, продолжим после завершения какого-нибудь раунда
			return
		}

		l.queue = l.queue[1:]
		st.running = true
		if st.retry != nil {
			st.retry.Stop()
			st.retry = nil
		}
		l.rounds[id] = st.pending
		st.pending = nil
	}
}

func (w *Worker) resolve(l *loop, round uuid.UUID, r reply) {
	for _, id := range l.rounds[round] {
		if ch, ok := l.waiters[id]; ok {
			delete(l.waiters, id)
			ch <- r
		}
	}
	delete(l.rounds, round)
}

func (w *Worker) finish(l *loop, d roundDone) {
	st := w.state(l, d.owner)
	st.running = false
	w.resolve(l, d.id, reply{result: d.result, err: d.err})

	switch {
	case d.err == nil && d.result != nil && d.result.Synced:
		st.backoff.Reset()
	case d.err == nil:
		// Раунд не успел все: продолжаем сразу
		st.rerun = true
	case errors.Is(d.err, ErrLockUnavailable):
		// Раунд владельца уже выполняет кто-то другой
	default:
		w.failed(l, d.owner, st, d.err)
	}

	if len(st.pending) > 0 || (st.rerun && !st.halted) {
		l.enqueue(d.owner)
	}
	st.rerun = false
}

func (w *Worker) failed(l *loop, owner api.OwnerID, st *ownerState, err error) {
	switch Classify(err) {
	case Canceled:
	case Retryable:
		delay := st.backoff.NextBackOff()
		if delay == backoff.Stop {
			st.halted = true
			w.logger.Warn("Sync retries exhausted", "owner_id", owner.String(), "error", err)
			return
		}
		w.logger.Info("Sync retry scheduled", "owner_id", owner.String(), "delay", delay)
		st.retry = time.AfterFunc(delay, func() { w.NotifyWrite(owner) })
	case Halting:
		st.halted = true
		st.rerun = false
		w.logger.Warn("Sync halted until explicit request", "owner_id", owner.String(), "error", err)
	}
}

// shutdown отвечает ожидающим, дожидается идущих раундов и закрывает stopped
func (w *Worker) shutdown(ctx context.Context, g *errgroup.Group, done <-chan roundDone, l *loop) {
	for _, st := range l.owners {
		if st.retry != nil {
			st.retry.Stop()
		}
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	for waiting := true; waiting; {
		select {
		case d := <-done:
			w.resolve(l, d.id, reply{result: d.result, err: d.err})
		case <-finished:
			waiting = false
		}
	}

	for id, ch := range l.waiters {
		delete(l.waiters, id)
		ch <- reply{err: ctx.Err()}
	}
	close(w.stopped)

	// Команды, принятые в буфер, но не обработанные
	for {
		select {
		case cmd := <-w.commands:
			if cmd.reply != nil {
				cmd.reply <- reply{err: ErrWorkerStopped}
			}
		default:
			w.logger.Info("Sync worker stopped")
			return
		}
	}
}
