package crdt

import (
	"errors"
	"fmt"
	"time"
)

// ErrClock общий признак ошибок часов. Все ошибки часов - локальные проблемы
// устройства, они не повторяются автоматически.
var ErrClock = errors.New("clock error")

// DriftError метка времени опережает локальные часы больше чем на maxDrift.
type DriftError struct {
	Millis   int64
	Now      int64
	MaxDrift time.Duration
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("timestamp drift: millis %d exceeds now %d by more than %s",
		e.Millis, e.Now, e.MaxDrift)
}

func (e *DriftError) Is(target error) bool { return target == ErrClock }

// CounterOverflowError счетчик превысил 16 бит в пределах одной миллисекунды.
type CounterOverflowError struct {
	Millis int64
}

func (e *CounterOverflowError) Error() string {
	return fmt.Sprintf("timestamp counter overflow at millis %d", e.Millis)
}

func (e *CounterOverflowError) Is(target error) bool { return target == ErrClock }

// TimeOutOfRangeError millis вне кодируемого диапазона.
type TimeOutOfRangeError struct {
	Millis int64
}

func (e *TimeOutOfRangeError) Error() string {
	return fmt.Sprintf("timestamp millis %d out of range [%d, %d]", e.Millis, MinMillis, MaxMillis)
}

func (e *TimeOutOfRangeError) Is(target error) bool { return target == ErrClock }

// DuplicateNodeError другой узел использует тот же NodeID.
type DuplicateNodeError struct {
	Node NodeID
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node id %s", e.Node)
}

func (e *DuplicateNodeError) Is(target error) bool { return target == ErrClock }
