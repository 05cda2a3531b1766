package qeval

import (
	"math"
	"math/rand"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SKIP LIST OF TERM OCCURRENCES
// ═══════════════════════════════════════════════════════════════════════════════
// Every (field, term) pair of the in-memory index owns one skip list holding
// all of its occurrences ordered by (document, offset):
//
//	Level 1: HEAD ------------> [2:0] ------------------> nil
//	Level 0: HEAD -> [1:3] -> [2:0] -> [2:7] -> [5:1] -> nil
//
// Documents can be added in any order; reading level 0 front to back always
// yields the occurrences grouped by document in increasing id order, which is
// exactly the shape a posting list needs.
// ═══════════════════════════════════════════════════════════════════════════════

const MaxHeight = 32

// Position identifies one token occurrence: the document and the 0-based
// offset of the token inside the field.
type Position struct {
	DocumentID int
	Offset     int
}

// Sentinel positions bound every list: BOF sorts before and EOF after any
// real occurrence.
var (
	BOFDocument = Position{DocumentID: math.MinInt, Offset: math.MinInt}
	EOFDocument = Position{DocumentID: math.MaxInt, Offset: math.MaxInt}
)

// IsEnd reports whether p is the EOF sentinel.
func (p Position) IsEnd() bool {
	return p.DocumentID == math.MaxInt
}

// Less orders positions by document, then by offset.
func (p Position) Less(other Position) bool {
	if p.DocumentID != other.DocumentID {
		return p.DocumentID < other.DocumentID
	}
	return p.Offset < other.Offset
}

type skipNode struct {
	key   Position
	tower [MaxHeight]*skipNode
}

// SkipList is a sorted set of positions.
type SkipList struct {
	head   *skipNode
	height int
	length int
	rng    *rand.Rand
}

// NewSkipList creates an empty list. The seed makes tower heights, and so the
// list's shape, reproducible.
func NewSkipList(seed int64) *SkipList {
	return &SkipList{
		head:   &skipNode{},
		height: 1,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of stored positions.
func (sl *SkipList) Len() int {
	return sl.length
}

// search walks from the top level down and returns the node holding key (nil
// if absent) plus the predecessor at every level.
func (sl *SkipList) search(key Position) (*skipNode, [MaxHeight]*skipNode) {
	var journey [MaxHeight]*skipNode
	current := sl.head
	for level := sl.height - 1; level >= 0; level-- {
		for next := current.tower[level]; next != nil && next.key.Less(key); next = current.tower[level] {
			current = next
		}
		journey[level] = current
	}
	if next := current.tower[0]; next != nil && next.key == key {
		return next, journey
	}
	return nil, journey
}

// Insert adds key. Inserting an existing position is a no-op; it returns
// false in that case.
func (sl *SkipList) Insert(key Position) bool {
	found, journey := sl.search(key)
	if found != nil {
		return false
	}

	height := sl.randomHeight()
	node := &skipNode{key: key}
	for level := 0; level < height; level++ {
		pred := journey[level]
		if pred == nil {
			pred = sl.head
		}
		node.tower[level] = pred.tower[level]
		pred.tower[level] = node
	}
	if height > sl.height {
		sl.height = height
	}
	sl.length++
	return true
}

func (sl *SkipList) randomHeight() int {
	height := 1
	for height < MaxHeight && sl.rng.Float64() < 0.5 {
		height++
	}
	return height
}

// Iterator walks level 0 in order.
type Iterator struct {
	current *skipNode
}

// Iterator returns an iterator positioned before the first element.
func (sl *SkipList) Iterator() *Iterator {
	return &Iterator{current: sl.head}
}

// HasNext reports whether Next would return a real position.
func (it *Iterator) HasNext() bool {
	return it.current != nil && it.current.tower[0] != nil
}

// Next advances and returns the next position, or EOFDocument at the end.
func (it *Iterator) Next() Position {
	if it.current == nil {
		return EOFDocument
	}
	it.current = it.current.tower[0]
	if it.current == nil {
		return EOFDocument
	}
	return it.current.key
}
