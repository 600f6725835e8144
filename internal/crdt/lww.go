package crdt

// Cell представляет значение одной колонки строки вместе с меткой записи.
// Используется как LWW-регистр (Last-Write-Wins): побеждает запись
// с большей меткой по полному порядку Timestamp.
type Cell struct {
	Value     []byte    // JSON-значение колонки
	Timestamp Timestamp // метка операции, записавшей значение
}

// Supersedes возвращает true, если c должна заменить other.
// Порядок прибытия операций не важен: результат зависит только от меток,
// поэтому слияние коммутативно и идемпотентно.
func (c Cell) Supersedes(other Cell) bool {
	return other.Timestamp.Less(c.Timestamp)
}

// Row материализованная строка таблицы: колонка -> значение.
type Row map[string]Cell

// Apply применяет значение колонки по правилу LWW.
// Возвращает true, если значение было записано.
func (r Row) Apply(column string, cell Cell) bool {
	existing, exists := r[column]
	if exists && !cell.Supersedes(existing) {
		return false
	}
	r[column] = cell
	return true
}

// Values возвращает значения колонок без меток.
func (r Row) Values() map[string][]byte {
	result := make(map[string][]byte, len(r))
	for column, cell := range r {
		result[column] = cell.Value
	}
	return result
}
