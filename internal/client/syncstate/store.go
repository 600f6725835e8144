// Package syncstate хранит состояние синхронизации владельцев и
// уведомляет подписчиков о переходах.
package syncstate

import (
	"sync"
	"time"

	"github.com/iudanet/gophsync/pkg/api"
)

// Kind вид состояния синхронизации
type Kind int

const (
	// Initial синхронизации еще не было
	Initial Kind = iota
	// Syncing раунд выполняется или запланирован следующий
	Syncing
	// Synced корни деревьев совпали, локальных неотправленных записей нет
	Synced
	// NotSynced последний раунд завершился ошибкой, причина в Reason
	NotSynced
)

func (k Kind) String() string {
	switch k {
	case Initial:
		return "initial"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case NotSynced:
		return "not_synced"
	default:
		return "unknown"
	}
}

// State состояние синхронизации владельца
type State struct {
	At     time.Time
	Reason error
	Kind   Kind
}

// Listener получает переходы состояний
type Listener func(owner api.OwnerID, state State)

// Store потокобезопасное хранилище состояний в памяти
type Store struct {
	states    map[api.OwnerID]State
	listeners map[int]Listener
	now       func() time.Time
	nextID    int
	mu        sync.RWMutex
}

// NewStore создает хранилище состояний
func NewStore() *Store {
	return &Store{
		states:    make(map[api.OwnerID]State),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// Get возвращает текущее состояние владельца (Initial, если раундов не было)
func (s *Store) Get(owner api.OwnerID) State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[owner]
	if !ok {
		return State{Kind: Initial}
	}
	return state
}

// OnSyncState записывает переход и уведомляет подписчиков
func (s *Store) OnSyncState(owner api.OwnerID, state State) {
	if state.At.IsZero() {
		state.At = s.now()
	}

	s.mu.Lock()
	s.states[owner] = state
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	// Подписчики вызываются без блокировки, они могут читать Store
	for _, l := range listeners {
		l(owner, state)
	}
}

// Subscribe добавляет подписчика. Возвращает функцию отписки.
func (s *Store) Subscribe(l Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.listeners, id)
	}
}

// Forget удаляет состояние владельца
func (s *Store) Forget(owner api.OwnerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, owner)
}
