package fingerprint

import (
	"github.com/iudanet/gophsync/pkg/api"
)

// Respond сравнивает присланную сводку с локальным деревом (сторона, отвечающая на Summary).
//
// Совпавшие префиксы опускаются: поддеревья равны. Для расходящегося префикса
// возвращается либо он сам с Leaf=true (диапазон достаточно мал или достигнута
// максимальная глубина), либо отпечатки обоих дочерних префиксов.
// Пустой ответ означает, что все присланные префиксы совпали.
func (t *Tree) Respond(remote []api.NodeHash) []api.NodeHash {
	var result []api.NodeHash
	for _, rn := range remote {
		local := t.Hash(rn.Prefix)
		if local == rn.Hash {
			continue
		}
		if rn.Leaf || t.isLeafRange(rn.Prefix) {
			result = append(result, api.NodeHash{Prefix: rn.Prefix, Hash: local, Leaf: true})
			continue
		}
		for bit := byte(0); bit < 2; bit++ {
			result = append(result, t.NodeHash(rn.Prefix.Child(bit)))
		}
	}
	return result
}

// isLeafRange true, если по префиксу выгоднее обменяться метками, чем спускаться дальше.
func (t *Tree) isLeafRange(p api.Prefix) bool {
	return p.Len >= t.opts.MaxDepth || t.Count(p) <= t.opts.LeafSize
}

// Step результат одного шага сужения на стороне инициатора.
type Step struct {
	// Next префиксы для следующей сводки (с локальными отпечатками)
	Next []api.NodeHash
	// Leaves расходящиеся диапазоны, по которым нужно обменяться метками
	Leaves []api.Prefix
}

// Narrow обрабатывает ответ на сводку (сторона-инициатор).
//
// Для дочернего префикса с совпавшим отпечатком поддерево отбрасывается.
// Если у нас по префиксу нет меток, он сразу становится листовым диапазоном:
// все, что есть у другой стороны, нам не хватает. Лист, помеченный удаленной
// стороной, дополнительно делится, если локально по нему слишком много меток.
func (t *Tree) Narrow(response []api.NodeHash) Step {
	var step Step
	for _, rn := range response {
		p := rn.Prefix
		if rn.Leaf {
			if p.Len < t.opts.MaxDepth && t.Count(p) > t.opts.LeafSize {
				step.Next = append(step.Next, t.NodeHash(p.Child(0)), t.NodeHash(p.Child(1)))
				continue
			}
			step.Leaves = append(step.Leaves, p)
			continue
		}

		local := t.Hash(p)
		switch {
		case local == rn.Hash:
		case t.Count(p) == 0:
			step.Leaves = append(step.Leaves, p)
		default:
			step.Next = append(step.Next, api.NodeHash{Prefix: p, Hash: local})
		}
	}
	return step
}

// Diff проводит сужение до конца между двумя деревьями в памяти и возвращает
// расходящиеся листовые диапазоны. Стоимость пропорциональна количеству
// расходящихся диапазонов, а не общему числу меток.
func Diff(local, remote *Tree) []api.Prefix {
	var leaves []api.Prefix
	frontier := []api.NodeHash{local.NodeHash(api.RootPrefix())}
	for len(frontier) > 0 {
		step := local.Narrow(remote.Respond(frontier))
		leaves = append(leaves, step.Leaves...)
		frontier = step.Next
	}
	return leaves
}

// missing возвращает метки из диапазонов, которых нет в other.
func missing(from, other *Tree, leaves []api.Prefix) []api.TimestampBytes {
	var result []api.TimestampBytes
	for _, p := range leaves {
		for _, ts := range from.Timestamps(p) {
			if !other.Contains(ts) {
				result = append(result, ts)
			}
		}
	}
	return result
}
