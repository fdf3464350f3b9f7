package index

import (
	"bytes"

	"boxstore/data"

	"github.com/google/btree"
)

// Indexer abstracts the in-memory key→position index so different data
// structures can be plugged in.
type Indexer interface {
	// Put stores the position for key, returning the previous one if any
	Put(key []byte, pos *data.FramePos) *data.FramePos

	// Get returns the position for key, nil if absent
	Get(key []byte) *data.FramePos

	// Delete removes the key, returning the previous position if any
	Delete(key []byte) (*data.FramePos, bool)

	// Size returns the number of live keys
	Size() int

	// Iterator walks keys in sorted order
	Iterator(reverse bool) Iterator

	// Close releases index resources
	Close() error
}

// PersistentIndexer is implemented by backends that survive restarts. The
// last indexed offset lets the box replay only the log tail on open.
type PersistentIndexer interface {
	Indexer

	// LastOffset returns the log offset up to which the index is current
	LastOffset() int64

	// SetLastOffset records the log offset the index is current up to
	SetLastOffset(offset int64)

	// Reset drops every entry ahead of a full log replay. A persisted index
	// may hold keys whose frames were truncated away by crash recovery, so a
	// replay from offset zero must start from an empty index.
	Reset() error
}

type IndexType = int8

const (
	// Btree google/btree index
	Btree IndexType = iota + 1

	// ART Adaptive Radix Tree index
	ART

	// BPTree bbolt-backed persistent index
	BPTree
)

// NewIndexer builds an index of the given type. indexPath and syncWrites are
// only meaningful for the persistent B+ tree backend.
func NewIndexer(typ IndexType, indexPath string, syncWrites bool) Indexer {
	switch typ {
	case Btree:
		return NewBTree()
	case ART:
		return NewARTree()
	case BPTree:
		return NewBPlusTree(indexPath, syncWrites)
	default:
		panic("unsupported index type")
	}
}

// Iterator generic index iterator
type Iterator interface {
	// Rewind resets to the first key
	Rewind()

	// Seek positions at the first key >= (or <= when reverse) the given key
	Seek(key []byte)

	// Next advances one key
	Next()

	// Valid reports whether the iterator still points at a key
	Valid() bool

	// Key returns the key at the current position
	Key() []byte

	// Value returns the position at the current position
	Value() *data.FramePos

	// Close releases iterator resources
	Close()
}

type Item struct {
	key []byte
	pos *data.FramePos
}

// Less custom ordering for btree items
func (ai *Item) Less(bi btree.Item) bool {
	return bytes.Compare(ai.key, bi.(*Item).key) == -1
}
