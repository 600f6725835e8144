// Package fingerprint реализует дерево отпечатков (Merkle trie) над
// бинарной формой меток времени одного владельца.
//
// Отпечаток множества меток - XOR усеченных SHA-256 хешей меток, поэтому
// результат не зависит от порядка вставки. Повторная вставка игнорируется.
// Дерево разреженное: лист хранит до LeafSize меток и делится по следующему
// биту, пока не достигнута MaxDepth.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/iudanet/gophsync/pkg/api"
)

const (
	// DefaultLeafSize размер листового диапазона по умолчанию
	DefaultLeafSize = 16
	// DefaultMaxDepth максимальная глубина (все биты метки)
	DefaultMaxDepth = api.MaxPrefixBits
)

// Options параметры дерева. Обе стороны обмена должны использовать одинаковые
// значения только ради эффективности: корректность от них не зависит.
type Options struct {
	LeafSize int
	MaxDepth uint8
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{LeafSize: DefaultLeafSize, MaxDepth: DefaultMaxDepth}
}

func (o Options) normalize() Options {
	if o.LeafSize <= 0 {
		o.LeafSize = DefaultLeafSize
	}
	if o.MaxDepth == 0 || o.MaxDepth > api.MaxPrefixBits {
		o.MaxDepth = DefaultMaxDepth
	}
	return o
}

// HashTimestamp отпечаток одной метки: первые 12 байт SHA-256.
func HashTimestamp(ts api.TimestampBytes) api.Hash {
	sum := sha256.Sum256(ts[:])
	var h api.Hash
	copy(h[:], sum[:api.HashSize])
	return h
}

type node struct {
	children [2]*node            // nil у листа
	items    []api.TimestampBytes // отсортированные метки листа
	hash     api.Hash
	count    int
}

func (n *node) isLeaf() bool {
	return n.children[0] == nil
}

// Tree дерево отпечатков. Безопасно для конкурентного использования.
type Tree struct {
	root *node
	opts Options
	mu   sync.RWMutex
}

// New создает пустое дерево.
func New(opts Options) *Tree {
	return &Tree{
		root: &node{},
		opts: opts.normalize(),
	}
}

// Build строит дерево из списка меток (например, при восстановлении из хранилища).
func Build(opts Options, timestamps []api.TimestampBytes) *Tree {
	t := New(opts)
	for _, ts := range timestamps {
		t.Insert(ts)
	}
	return t
}

// Options возвращает параметры дерева.
func (t *Tree) Options() Options {
	return t.opts
}

// Insert добавляет метку. Возвращает false, если метка уже была в дереве.
func (t *Tree) Insert(ts api.TimestampBytes) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.contains(ts) {
		return false
	}

	h := HashTimestamp(ts)
	n := t.root
	var depth uint8
	for {
		n.hash.Xor(h)
		n.count++
		if n.isLeaf() {
			break
		}
		n = n.children[api.Bit(ts, depth)]
		depth++
	}

	idx := sort.Search(len(n.items), func(i int) bool {
		return bytes.Compare(n.items[i][:], ts[:]) >= 0
	})
	n.items = append(n.items, api.TimestampBytes{})
	copy(n.items[idx+1:], n.items[idx:])
	n.items[idx] = ts

	t.split(n, depth)
	return true
}

// split делит переполненный лист. Разбиение зависит только от множества меток,
// поэтому форма дерева детерминирована.
func (t *Tree) split(n *node, depth uint8) {
	if len(n.items) <= t.opts.LeafSize || depth >= t.opts.MaxDepth {
		return
	}

	n.children = [2]*node{{}, {}}
	for _, ts := range n.items {
		child := n.children[api.Bit(ts, depth)]
		child.items = append(child.items, ts)
		child.hash.Xor(HashTimestamp(ts))
		child.count++
	}
	n.items = nil

	t.split(n.children[0], depth+1)
	t.split(n.children[1], depth+1)
}

// Contains проверяет наличие метки.
func (t *Tree) Contains(ts api.TimestampBytes) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.contains(ts)
}

func (t *Tree) contains(ts api.TimestampBytes) bool {
	n := t.root
	var depth uint8
	for !n.isLeaf() {
		n = n.children[api.Bit(ts, depth)]
		depth++
	}
	idx := sort.Search(len(n.items), func(i int) bool {
		return bytes.Compare(n.items[i][:], ts[:]) >= 0
	})
	return idx < len(n.items) && n.items[idx] == ts
}

// locate спускается к узлу префикса. Если путь обрывается на листе выше
// префикса, возвращает этот лист и false.
func (t *Tree) locate(p api.Prefix) (*node, bool) {
	n := t.root
	var prefixTS api.TimestampBytes
	copy(prefixTS[:], p.Bits[:])

	for depth := uint8(0); depth < p.Len; depth++ {
		if n.isLeaf() {
			return n, false
		}
		n = n.children[api.Bit(prefixTS, depth)]
	}
	return n, true
}

// Root отпечаток всего дерева.
func (t *Tree) Root() api.Hash {
	return t.Hash(api.RootPrefix())
}

// Hash отпечаток всех меток с данным префиксом. Определен для любого префикса,
// независимо от формы дерева.
func (t *Tree) Hash(p api.Prefix) api.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, exact := t.locate(p)
	if exact {
		return n.hash
	}
	var h api.Hash
	for _, ts := range n.items {
		if p.Contains(ts) {
			h.Xor(HashTimestamp(ts))
		}
	}
	return h
}

// Count количество меток с данным префиксом.
func (t *Tree) Count(p api.Prefix) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, exact := t.locate(p)
	if exact {
		return n.count
	}
	count := 0
	for _, ts := range n.items {
		if p.Contains(ts) {
			count++
		}
	}
	return count
}

// Len общее количество меток.
func (t *Tree) Len() int {
	return t.Count(api.RootPrefix())
}

// Timestamps возвращает метки с данным префиксом в порядке байтов.
func (t *Tree) Timestamps(p api.Prefix) []api.TimestampBytes {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, exact := t.locate(p)
	if !exact {
		var result []api.TimestampBytes
		for _, ts := range n.items {
			if p.Contains(ts) {
				result = append(result, ts)
			}
		}
		return result
	}

	result := make([]api.TimestampBytes, 0, n.count)
	var walk func(n *node)
	walk = func(n *node) {
		if n.isLeaf() {
			result = append(result, n.items...)
			return
		}
		walk(n.children[0])
		walk(n.children[1])
	}
	walk(n)
	return result
}

// NodeHash отпечаток префикса в форме узла сводки.
func (t *Tree) NodeHash(p api.Prefix) api.NodeHash {
	return api.NodeHash{Prefix: p, Hash: t.Hash(p)}
}

// Verify пересчитывает отпечатки и счетчики всех узлов.
// Ошибка означает нарушение внутреннего инварианта; дерево нужно перестроить из хранилища.
func (t *Tree) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, _, err := verifyNode(t.root, api.RootPrefix())
	return err
}

func verifyNode(n *node, p api.Prefix) (api.Hash, int, error) {
	var h api.Hash
	count := 0
	if n.isLeaf() {
		for i, ts := range n.items {
			if !p.Contains(ts) {
				return h, 0, fmt.Errorf("timestamp %s stored outside prefix %s", ts, p)
			}
			if i > 0 && bytes.Compare(n.items[i-1][:], ts[:]) >= 0 {
				return h, 0, fmt.Errorf("leaf %s is not sorted", p)
			}
			h.Xor(HashTimestamp(ts))
			count++
		}
	} else {
		for bit := byte(0); bit < 2; bit++ {
			ch, cc, err := verifyNode(n.children[bit], p.Child(bit))
			if err != nil {
				return h, 0, err
			}
			h.Xor(ch)
			count += cc
		}
	}
	if h != n.hash || count != n.count {
		return h, 0, fmt.Errorf("node %s: stored hash/count do not match contents", p)
	}
	return h, count, nil
}
