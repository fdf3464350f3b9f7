package index

import (
	"encoding/binary"

	"boxstore/data"

	"go.etcd.io/bbolt"
)

// IndexFileSuffix persistent index sidecar files
const IndexFileSuffix = ".idx"

var (
	indexBucketName = []byte("boxstore-index")
	metaBucketName  = []byte("boxstore-meta")
	lastOffsetKey   = []byte("last.offset")
)

// BPlusTree persistent B+ tree index, wraps go.etcd.io/bbolt. Unlike the
// in-memory backends it survives restarts, so the box only replays the log
// tail past LastOffset on open.
type BPlusTree struct {
	tree *bbolt.DB
}

// NewBPlusTree opens the index sidecar at indexPath.
func NewBPlusTree(indexPath string, syncWrites bool) *BPlusTree {
	opts := bbolt.DefaultOptions
	opts.NoSync = !syncWrites
	bptree, err := bbolt.Open(indexPath, 0644, opts)
	if err != nil {
		panic("failed to open bptree")
	}

	if err := bptree.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(indexBucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucketName)
		return err
	}); err != nil {
		panic("failed to create bucket in bptree")
	}

	return &BPlusTree{tree: bptree}
}

func (bpt *BPlusTree) Put(key []byte, pos *data.FramePos) *data.FramePos {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		oldValue = bucket.Get(key)
		return bucket.Put(key, data.EncodeFramePos(pos))
	}); err != nil {
		panic("failed to put value in bptree")
	}
	if len(oldValue) == 0 {
		return nil
	}
	return data.DecodeFramePos(oldValue)
}

func (bpt *BPlusTree) Get(key []byte) *data.FramePos {
	var pos *data.FramePos
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		value := bucket.Get(key)
		if len(value) != 0 {
			pos = data.DecodeFramePos(value)
		}
		return nil
	}); err != nil {
		panic("failed to get value in bptree")
	}
	return pos
}

func (bpt *BPlusTree) Delete(key []byte) (*data.FramePos, bool) {
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		if oldValue = bucket.Get(key); len(oldValue) != 0 {
			return bucket.Delete(key)
		}
		return nil
	}); err != nil {
		panic("failed to delete value in bptree")
	}
	if len(oldValue) == 0 {
		return nil, false
	}
	return data.DecodeFramePos(oldValue), true
}

func (bpt *BPlusTree) Size() int {
	var size int
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(indexBucketName)
		size = bucket.Stats().KeyN
		return nil
	}); err != nil {
		panic("failed to get size in bptree")
	}
	return size
}

func (bpt *BPlusTree) Iterator(reverse bool) Iterator {
	return newBptreeIterator(bpt.tree, reverse)
}

func (bpt *BPlusTree) Close() error {
	return bpt.tree.Close()
}

// Reset drops all index entries and the recorded offset.
func (bpt *BPlusTree) Reset() error {
	return bpt.tree.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(indexBucketName); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(indexBucketName); err != nil {
			return err
		}
		return tx.Bucket(metaBucketName).Delete(lastOffsetKey)
	})
}

// LastOffset returns the log offset the index is current up to.
func (bpt *BPlusTree) LastOffset() int64 {
	var offset int64
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(metaBucketName).Get(lastOffsetKey)
		if len(value) != 0 {
			offset = int64(binary.LittleEndian.Uint64(value))
		}
		return nil
	}); err != nil {
		panic("failed to read last offset in bptree")
	}
	return offset
}

// SetLastOffset records the log offset the index is current up to.
func (bpt *BPlusTree) SetLastOffset(offset int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucketName).Put(lastOffsetKey, buf[:])
	}); err != nil {
		panic("failed to write last offset in bptree")
	}
}

type bptreeIterator struct {
	tx        *bbolt.Tx
	cursor    *bbolt.Cursor
	reverse   bool
	currKey   []byte
	currValue []byte
}

func newBptreeIterator(tree *bbolt.DB, reverse bool) *bptreeIterator {
	tx, err := tree.Begin(false)
	if err != nil {
		panic("failed to begin a transaction")
	}
	bpi := &bptreeIterator{
		tx:      tx,
		cursor:  tx.Bucket(indexBucketName).Cursor(),
		reverse: reverse,
	}
	bpi.Rewind()
	return bpi
}

func (bpi *bptreeIterator) Rewind() {
	if bpi.reverse {
		bpi.currKey, bpi.currValue = bpi.cursor.Last()
	} else {
		bpi.currKey, bpi.currValue = bpi.cursor.First()
	}
}

func (bpi *bptreeIterator) Seek(key []byte) {
	bpi.currKey, bpi.currValue = bpi.cursor.Seek(key)
}

func (bpi *bptreeIterator) Next() {
	if bpi.reverse {
		bpi.currKey, bpi.currValue = bpi.cursor.Prev()
	} else {
		bpi.currKey, bpi.currValue = bpi.cursor.Next()
	}
}

func (bpi *bptreeIterator) Valid() bool {
	return len(bpi.currKey) != 0
}

func (bpi *bptreeIterator) Key() []byte {
	return bpi.currKey
}

func (bpi *bptreeIterator) Value() *data.FramePos {
	return data.DecodeFramePos(bpi.currValue)
}

func (bpi *bptreeIterator) Close() {
	_ = bpi.tx.Rollback()
}
