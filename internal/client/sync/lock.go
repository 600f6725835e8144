package sync

import (
	gosync "sync"

	"github.com/iudanet/gophsync/pkg/api"
)

// Lock исключающая блокировка раунда синхронизации владельца (SyncLock).
// Блокировка не реентерабельная: повторный захват тем же вызывающим неуспешен.
type Lock interface {
	// TryLock захватывает блокировку без ожидания.
	// Возвращает функцию освобождения и false, если блокировка занята.
	TryLock(owner api.OwnerID) (release func(), ok bool)
}

// MemoryLock блокировка внутри процесса. Между процессами реплику защищает
// эксклюзивная файловая блокировка базы bbolt: второй процесс не откроет базу.
type MemoryLock struct {
	owners map[api.OwnerID]struct{}
	mu   gosync.Mutex
}

// NewMemoryLock создает блокировку
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{owners: make(map[api.OwnerID]struct{})}
}

// TryLock захватывает блокировку владельца
func (l *MemoryLock) TryLock(owner api.OwnerID) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.owners[owner]; busy {
		return nil, false
	}
	l.owners[owner] = struct{}{}

	var once gosync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()

			delete(l.owners, owner)
		})
	}, true
}

// held возвращает true, если блокировка владельца занята
func (l *MemoryLock) held(owner api.OwnerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, busy := l.owners[owner]
	return busy
}
