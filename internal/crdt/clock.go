package crdt

import (
	"sync"
	"time"
)

// ClockConfig параметры гибридных логических часов
type ClockConfig struct {
	MaxDrift time.Duration // допустимое опережение времени относительно wall clock
}

// DefaultClockConfig возвращает конфигурацию по умолчанию (maxDrift = 5 минут).
func DefaultClockConfig() ClockConfig {
	return ClockConfig{MaxDrift: DefaultMaxDrift}
}

// Clock представляет гибридные логические часы (HLC): физическое время
// в миллисекундах плюс логический счетчик и идентификатор узла.
// Каждая последующая локальная метка строго больше предыдущей.
type Clock struct {
	last Timestamp  // последняя выданная или принятая метка
	cfg  ClockConfig
	mu   sync.Mutex // мьютекс для потокобезопасности
}

// NewClock создает новые часы для узла.
func NewClock(node NodeID, cfg ClockConfig) *Clock {
	return &Clock{
		last: Timestamp{Node: node},
		cfg:  normalizeConfig(cfg),
	}
}

// RestoreClock восстанавливает часы из сохраненной метки (например, после перезапуска).
func RestoreClock(last Timestamp, cfg ClockConfig) *Clock {
	return &Clock{
		last: last,
		cfg:  normalizeConfig(cfg),
	}
}

func normalizeConfig(cfg ClockConfig) ClockConfig {
	if cfg.MaxDrift <= 0 {
		cfg.MaxDrift = DefaultMaxDrift
	}
	return cfg
}

// Node возвращает идентификатор узла.
func (c *Clock) Node() NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last.Node
}

// Last возвращает последнюю метку без изменения состояния.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// Next генерирует метку для нового локального события.
// millis = max(now, last.millis); счетчик сбрасывается, когда millis растет.
// При ошибке состояние часов не меняется.
func (c *Clock) Next(nowMillis int64) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkWallClock(nowMillis); err != nil {
		return Timestamp{}, err
	}

	millis := max(c.last.Millis, nowMillis)
	counter := 0
	if millis == c.last.Millis {
		counter = int(c.last.Counter) + 1
	}

	next, err := c.build(millis, counter, nowMillis)
	if err != nil {
		return Timestamp{}, err
	}

	c.last = next
	return next, nil
}

// Receive сливает удаленную метку с локальными часами (стандартный HLC update):
// millis = max(local, remote, now); при равенстве millis счетчик увеличивается,
// иначе сбрасывается в 0.
func (c *Clock) Receive(remote Timestamp, nowMillis int64) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkWallClock(nowMillis); err != nil {
		return Timestamp{}, err
	}
	if remote.Node == c.last.Node {
		return Timestamp{}, &DuplicateNodeError{Node: remote.Node}
	}
	if err := remote.Validate(); err != nil {
		return Timestamp{}, err
	}
	if err := checkDrift(remote.Millis, nowMillis, c.cfg.MaxDrift); err != nil {
		return Timestamp{}, err
	}

	local := c.last
	millis := max(local.Millis, remote.Millis, nowMillis)

	var counter int
	switch {
	case millis == local.Millis && millis == remote.Millis:
		counter = int(max(local.Counter, remote.Counter)) + 1
	case millis == local.Millis:
		counter = int(local.Counter) + 1
	case millis == remote.Millis:
		counter = int(remote.Counter) + 1
	default:
		counter = 0
	}

	next, err := c.build(millis, counter, nowMillis)
	if err != nil {
		return Timestamp{}, err
	}

	c.last = next
	return next, nil
}

// CheckDrift проверяет удаленную метку без изменения состояния часов.
// Используется для валидации всей пачки до применения.
func (c *Clock) CheckDrift(ts Timestamp, nowMillis int64) error {
	c.mu.Lock()
	maxDrift := c.cfg.MaxDrift
	c.mu.Unlock()

	if err := ts.Validate(); err != nil {
		return err
	}
	return checkDrift(ts.Millis, nowMillis, maxDrift)
}

func (c *Clock) build(millis int64, counter int, nowMillis int64) (Timestamp, error) {
	if err := checkDrift(millis, nowMillis, c.cfg.MaxDrift); err != nil {
		return Timestamp{}, err
	}
	if counter > MaxCounter {
		return Timestamp{}, &CounterOverflowError{Millis: millis}
	}

	ts := Timestamp{
		Millis:  millis,
		Counter: uint16(counter),
		Node:    c.last.Node,
	}
	if err := ts.Validate(); err != nil {
		return Timestamp{}, err
	}
	return ts, nil
}

func checkDrift(millis, nowMillis int64, maxDrift time.Duration) error {
	if millis-nowMillis > maxDrift.Milliseconds() {
		return &DriftError{Millis: millis, Now: nowMillis, MaxDrift: maxDrift}
	}
	return nil
}

func checkWallClock(nowMillis int64) error {
	if nowMillis < MinMillis || nowMillis > MaxMillis {
		return &TimeOutOfRangeError{Millis: nowMillis}
	}
	return nil
}
