package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/codec"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/fingerprint"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

// ErrInvalidChange расшифрованная операция не прошла проверку
var ErrInvalidChange = errors.New("invalid change")

// Storage локальное хранилище реплики
type Storage interface {
	storage.OperationStorage
	storage.RowStorage
	storage.ClockStorage
	storage.OwnerStorage
}

// KeyProvider выдает ключ шифрования операций владельца
type KeyProvider interface {
	KeyFor(ctx context.Context, owner api.OwnerID) ([]byte, error)
}

// WriteNotifier получает уведомления о локальных записях (планировщик синхронизации)
type WriteNotifier interface {
	NotifyWrite(owner api.OwnerID)
}

// Service локальные чтение и запись реплики. Запись никогда не ждет синхронизации:
// операция сохраняется локально и попадает в следующий раунд.
type Service struct {
	store    Storage
	keys     KeyProvider
	trees    *fingerprint.Cache
	now      crdt.TimeSource
	logger   *slog.Logger
	notifier WriteNotifier
	clocks   map[api.OwnerID]*crdt.Clock
	writes   map[api.OwnerID]uint64
	clockCfg crdt.ClockConfig
	mu       sync.Mutex
}

// NewService creates a new data service
func NewService(store Storage, keys KeyProvider, trees *fingerprint.Cache, clockCfg crdt.ClockConfig, now crdt.TimeSource, logger *slog.Logger) *Service {
	if now == nil {
		now = crdt.SystemTime
	}
	return &Service{
		store:    store,
		keys:     keys,
		trees:    trees,
		now:      now,
		logger:   logger,
		clocks:   make(map[api.OwnerID]*crdt.Clock),
		writes:   make(map[api.OwnerID]uint64),
		clockCfg: clockCfg,
	}
}

// SetNotifier подключает планировщик синхронизации
func (s *Service) SetNotifier(n WriteNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifier = n
}

// clock возвращает часы владельца, восстанавливая их из хранилища
func (s *Service) clock(ctx context.Context, owner api.OwnerID) (*crdt.Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clocks[owner]; ok {
		return c, nil
	}

	last, ok, err := s.store.LoadClock(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load clock: %w", err)
	}

	var c *crdt.Clock
	if ok {
		c = crdt.RestoreClock(last, s.clockCfg)
	} else {
		rec, err := s.store.GetOwner(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to get owner: %w", err)
		}
		node, err := crdt.ParseNodeID(rec.Node)
		if err != nil {
			return nil, fmt.Errorf("owner record has invalid node id: %w", err)
		}
		c = crdt.NewClock(node, s.clockCfg)
	}

	s.clocks[owner] = c
	return c, nil
}

// Mutate записывает значение колонки строки.
// Операция получает новую метку, шифруется и применяется локально.
func (s *Service) Mutate(ctx context.Context, owner api.OwnerID, table, row, column string, value json.RawMessage) (crdt.Timestamp, error) {
	change := &models.Change{Table: table, Row: row, Column: column, Value: value}
	if err := validation.ValidateChange(change); err != nil {
		return crdt.Timestamp{}, fmt.Errorf("%w: %w", ErrInvalidChange, err)
	}

	key, err := s.keys.KeyFor(ctx, owner)
	if err != nil {
		return crdt.Timestamp{}, err
	}

	clock, err := s.clock(ctx, owner)
	if err != nil {
		return crdt.Timestamp{}, err
	}

	ts, err := clock.Next(s.now())
	if err != nil {
		return crdt.Timestamp{}, fmt.Errorf("failed to generate timestamp: %w", err)
	}

	tsBytes, err := codec.TimestampToBytes(ts)
	if err != nil {
		return crdt.Timestamp{}, err
	}

	plaintext, err := json.Marshal(change)
	if err != nil {
		return crdt.Timestamp{}, fmt.Errorf("failed to marshal change: %w", err)
	}

	ciphertext, err := crypto.Encrypt(plaintext, key, crypto.OperationAAD(owner, tsBytes))
	if err != nil {
		return crdt.Timestamp{}, fmt.Errorf("failed to encrypt change: %w", err)
	}

	op := models.Operation{Owner: owner, Timestamp: tsBytes, Ciphertext: ciphertext}
	if _, err := s.store.ApplyOperation(ctx, op, change, ts); err != nil {
		return crdt.Timestamp{}, fmt.Errorf("failed to apply local operation: %w", err)
	}
	if err := s.store.SaveClock(ctx, owner, clock.Last()); err != nil {
		return crdt.Timestamp{}, fmt.Errorf("failed to save clock: %w", err)
	}
	s.trees.Insert(owner, tsBytes)

	s.mu.Lock()
	s.writes[owner]++
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier.NotifyWrite(owner)
	}

	s.logger.DebugContext(ctx, "Local operation written",
		"owner_id", owner.String(),
		"table", table,
		"timestamp", ts.String(),
	)
	return ts, nil
}

// Generation счетчик локальных записей владельца.
// Изменение счетчика за время раунда означает, что есть неотправленная запись.
func (s *Service) Generation(owner api.OwnerID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writes[owner]
}

// Precheck проверяет дрейф всех меток пачки до применения первой операции
func (s *Service) Precheck(ctx context.Context, ops []models.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	clock, err := s.clock(ctx, ops[0].Owner)
	if err != nil {
		return err
	}

	now := s.now()
	for _, op := range ops {
		if err := clock.CheckDrift(codec.BytesToTimestamp(op.Timestamp), now); err != nil {
			return fmt.Errorf("operation %s rejected: %w", op.Timestamp, err)
		}
	}
	return nil
}

// Apply применяет операцию, полученную от другой стороны:
// расшифровка, проверка, продвижение часов и LWW.
func (s *Service) Apply(ctx context.Context, op models.Operation) error {
	key, err := s.keys.KeyFor(ctx, op.Owner)
	if err != nil {
		return err
	}

	plaintext, err := crypto.Decrypt(op.Ciphertext, key, crypto.OperationAAD(op.Owner, op.Timestamp))
	if err != nil {
		return err
	}

	var change models.Change
	if err := json.Unmarshal(plaintext, &change); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChange, err)
	}
	if err := validation.ValidateChange(&change); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChange, err)
	}

	clock, err := s.clock(ctx, op.Owner)
	if err != nil {
		return err
	}

	ts := codec.BytesToTimestamp(op.Timestamp)
	if _, err := clock.Receive(ts, s.now()); err != nil {
		return err
	}

	if _, err := s.store.ApplyOperation(ctx, op, &change, ts); err != nil {
		return err
	}
	return s.store.SaveClock(ctx, op.Owner, clock.Last())
}

// Get возвращает значения колонок строки
func (s *Service) Get(ctx context.Context, owner api.OwnerID, table, id string) (map[string]json.RawMessage, error) {
	row, err := s.store.GetRow(ctx, owner, table, id)
	if err != nil {
		return nil, err
	}
	return values(row), nil
}

// List возвращает все строки таблицы
func (s *Service) List(ctx context.Context, owner api.OwnerID, table string) (map[string]map[string]json.RawMessage, error) {
	rows, err := s.store.ListRows(ctx, owner, table)
	if err != nil {
		return nil, err
	}

	result := make(map[string]map[string]json.RawMessage, len(rows))
	for id, row := range rows {
		result[id] = values(row)
	}
	return result, nil
}

// Forget сбрасывает кэшированное состояние владельца (после удаления с устройства)
func (s *Service) Forget(owner api.OwnerID) {
	s.mu.Lock()
	delete(s.clocks, owner)
	delete(s.writes, owner)
	s.mu.Unlock()

	s.trees.Invalidate(owner)
}

func values(row crdt.Row) map[string]json.RawMessage {
	result := make(map[string]json.RawMessage, len(row))
	for column, value := range row.Values() {
		result[column] = value
	}
	return result
}
