package boxstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"boxstore/codec"
	"boxstore/crypt"
	"boxstore/data"
	"boxstore/fio"
	"boxstore/index"
	"boxstore/utils"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix = ".lock"
	nextKeySeqKey  = "next.key"
)

// Box is a named key-value collection backed by one append-only log file.
// All mutations are serialized through an internal lock; a Box exclusively
// owns its log file handle and index.
type Box struct {
	options     Options
	mu          *sync.RWMutex
	log         *data.LogFile
	index       index.Indexer
	cache       map[string]codec.Value // eager-mode decoded values, keyed by encoded key
	watcher     *watcher
	registry    *codec.Registry
	cipher      *crypt.Cipher
	fileLock    *flock.Flock
	logger      *slog.Logger
	nextKey     uint64 // next auto-increment integer key, never reused
	reclaimSize int64  // bytes superseded or deleted, reclaimable by compaction
	bytesWrite  uint   // bytes appended since the last fsync
	closed      bool
	compacting  bool
}

// Stat holds box statistics.
type Stat struct {
	KeyNum          uint  // number of live keys
	LogSize         int64 // physical log file size in bytes
	DiskSize        int64 // total footprint of the box directory
	ReclaimableSize int64 // bytes a compaction would reclaim
}

// Open opens the box described by options, scanning the log to rebuild the
// index. A torn tail left by a crash is truncated silently; the box opens
// with exactly the frames whose bytes are complete and checksum-valid.
func Open(options Options) (*Box, error) {
	if err := checkOptions(options); err != nil {
		return nil, err
	}

	if _, err := os.Stat(options.DirPath); os.IsNotExist(err) {
		if err := os.MkdirAll(options.DirPath, os.ModePerm); err != nil {
			return nil, err
		}
	}

	// guard against a second process touching the same box
	fileLock := flock.New(filepath.Join(options.DirPath, options.Name+lockFileSuffix))
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !hold {
		return nil, ErrBoxIsUsing
	}

	var cipher *crypt.Cipher
	if len(options.CipherKey) > 0 {
		if cipher, err = crypt.New(options.CipherKey); err != nil {
			return nil, err
		}
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ioType := fio.StandardFIO
	if options.MMapAtStartup {
		ioType = fio.MemoryMap
	}
	logPath := filepath.Join(options.DirPath, options.Name+data.LogFileSuffix)
	logFile, err := data.OpenLogFile(logPath, ioType)
	if err != nil {
		return nil, err
	}

	indexPath := filepath.Join(options.DirPath, options.Name+index.IndexFileSuffix)
	box := &Box{
		options:  options,
		mu:       new(sync.RWMutex),
		log:      logFile,
		index:    index.NewIndexer(options.IndexType, indexPath, options.SyncWrites),
		cache:    make(map[string]codec.Value),
		watcher:  newWatcher(),
		registry: options.Registry,
		cipher:   cipher,
		fileLock: fileLock,
		logger:   logger,
	}

	cleanClose, err := box.loadNextKey()
	if err != nil {
		return nil, err
	}

	// a persistent index is current up to its recorded offset, only the
	// tail needs replaying. Eager mode always replays everything since the
	// value cache cannot be rebuilt from positions alone; after a crash the
	// full scan is also required to re-derive the auto-increment counter.
	var scanFrom int64
	if persistent, ok := box.index.(index.PersistentIndexer); ok {
		if options.Mode != EagerMode && cleanClose {
			scanFrom = persistent.LastOffset()
			if scanFrom > logFile.WriteOff {
				logger.Warn("index ahead of log, replaying from start",
					"box", options.Name, "indexed", scanFrom, "log", logFile.WriteOff)
				scanFrom = 0
			}
		}
		// a full replay rebuilds the index from scratch; entries left from
		// before a crash may point at frames the recovery truncation removed
		if scanFrom == 0 {
			if err := persistent.Reset(); err != nil {
				return nil, err
			}
		}
	}

	validEnd, err := box.loadIndexFromLog(scanFrom)
	if err != nil {
		return nil, err
	}

	if options.MMapAtStartup {
		if err := box.log.SetIOManager(fio.StandardFIO); err != nil {
			return nil, err
		}
	}

	if size, err := box.log.Size(); err != nil {
		return nil, err
	} else if validEnd < size {
		// torn tail from a non-atomic crash, drop it
		logger.Warn("truncating corrupted log tail",
			"box", options.Name, "validEnd", validEnd, "fileSize", size)
		if err := box.log.Truncate(validEnd); err != nil {
			return nil, err
		}
	}
	box.log.WriteOff = validEnd

	if persistent, ok := box.index.(index.PersistentIndexer); ok {
		persistent.SetLastOffset(validEnd)
	}

	logger.Info("box opened",
		"box", options.Name, "keys", box.index.Size(), "logSize", validEnd)
	return box, nil
}

// Get returns the value stored for key. The second result is false when the
// key is absent; absence is not an error.
func (b *Box) Get(key Key) (codec.Value, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false, ErrBoxClosed
	}

	encKey := key.encode()
	pos := b.index.Get(encKey)
	if pos == nil {
		return nil, false, nil
	}

	if b.options.Mode == EagerMode {
		return b.cache[string(encKey)], true, nil
	}

	// lazy mode reads, decrypts and decodes per call, caching nothing
	frame, _, err := b.log.ReadFrame(pos.Offset)
	if err != nil {
		return nil, false, err
	}
	value, err := b.decodePayload(frame.TypeID, frame.Payload)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stores value under key. The value's type must be registered.
func (b *Box) Put(key Key, value codec.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.putLocked(key, value)
}

// Add stores value under the next auto-increment integer key and returns the
// key. Keys start at 0 in an empty box, grow monotonically and are never
// reused after deletion.
func (b *Box) Add(value codec.Value) (Key, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := IntKey(b.nextKey)
	if err := b.putLocked(key, value); err != nil {
		return Key{}, err
	}
	return key, nil
}

// Delete removes key by appending a tombstone frame. Deleting an absent key
// is a no-op.
func (b *Box) Delete(key Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBoxClosed
	}

	encKey := key.encode()
	if pos := b.index.Get(encKey); pos == nil {
		return nil
	}

	frame := &data.Frame{Key: encKey, Tombstone: true}
	pos, err := b.appendFrame(frame)
	if err != nil {
		return err
	}
	b.reclaimSize += int64(pos.Size)

	oldPos, ok := b.index.Delete(encKey)
	if !ok {
		return ErrIndexUpdateFailed
	}
	if oldPos != nil {
		b.reclaimSize += int64(oldPos.Size)
	}
	delete(b.cache, string(encKey))

	b.watcher.publish(Event{Kind: EventDelete, Key: key}, string(encKey))
	b.maybeCompact()
	return nil
}

// Contains reports whether key is present.
func (b *Box) Contains(key Key) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, ErrBoxClosed
	}
	return b.index.Get(key.encode()) != nil, nil
}

// Len returns the number of live keys.
func (b *Box) Len() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrBoxClosed
	}
	return b.index.Size(), nil
}

// Keys returns all keys in index order: integer keys ascending, then string
// keys lexicographically.
func (b *Box) Keys() ([]Key, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBoxClosed
	}

	iterator := b.index.Iterator(false)
	defer iterator.Close()
	keys := make([]Key, 0, b.index.Size())
	for iterator.Rewind(); iterator.Valid(); iterator.Next() {
		key, err := decodeKey(iterator.Key())
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Values returns all values in key order. In lazy mode this is a full disk
// read-through.
func (b *Box) Values() ([]codec.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBoxClosed
	}

	iterator := b.index.Iterator(false)
	defer iterator.Close()
	values := make([]codec.Value, 0, b.index.Size())
	for iterator.Rewind(); iterator.Valid(); iterator.Next() {
		if b.options.Mode == EagerMode {
			values = append(values, b.cache[string(iterator.Key())])
			continue
		}
		frame, _, err := b.log.ReadFrame(iterator.Value().Offset)
		if err != nil {
			return nil, err
		}
		value, err := b.decodePayload(frame.TypeID, frame.Payload)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// Listen subscribes handler to mutations. With keys given, only events for
// those keys fire. Handlers run synchronously inside the mutating call and
// must not invoke mutating box methods.
func (b *Box) Listen(handler func(Event), keys ...Key) (*Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBoxClosed
	}
	return b.watcher.subscribe(handler, keys), nil
}

// Flush forces buffered appends to stable storage.
func (b *Box) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBoxClosed
	}
	b.bytesWrite = 0
	return b.log.Sync()
}

// Stat returns box statistics.
func (b *Box) Stat() (*Stat, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBoxClosed
	}
	logSize, err := b.log.Size()
	if err != nil {
		return nil, err
	}
	dirSize, err := utils.DirSize(b.options.DirPath)
	if err != nil {
		return nil, err
	}
	return &Stat{
		KeyNum:          uint(b.index.Size()),
		LogSize:         logSize,
		DiskSize:        dirSize,
		ReclaimableSize: b.reclaimSize,
	}, nil
}

// Close flushes and releases the box. Operations after Close fail with
// ErrBoxClosed. Closing twice is a no-op.
func (b *Box) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	if b.options.CompactOnClose && b.reclaimSize > 0 {
		if err := b.compactLocked(); err != nil {
			return err
		}
	}

	if err := b.saveNextKey(); err != nil {
		return err
	}

	if persistent, ok := b.index.(index.PersistentIndexer); ok {
		persistent.SetLastOffset(b.log.WriteOff)
	}
	if err := b.index.Close(); err != nil {
		return err
	}

	if err := b.log.Sync(); err != nil {
		return err
	}
	if err := b.log.Close(); err != nil {
		return err
	}

	b.watcher.clear()
	b.cache = nil
	b.closed = true

	if err := b.fileLock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock the box directory: %w", err)
	}
	b.logger.Info("box closed", "box", b.options.Name)
	return nil
}

// DeleteFromDisk closes the box and removes its files.
func (b *Box) DeleteFromDisk() error {
	if err := b.Close(); err != nil {
		return err
	}

	dir, name := b.options.DirPath, b.options.Name
	for _, suffix := range []string{
		data.LogFileSuffix, data.SeqFileSuffix, index.IndexFileSuffix, lockFileSuffix,
	} {
		if err := os.Remove(filepath.Join(dir, name+suffix)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (b *Box) putLocked(key Key, value codec.Value) error {
	if b.closed {
		return ErrBoxClosed
	}

	payload, err := b.encodePayload(value)
	if err != nil {
		return err
	}

	encKey := key.encode()
	frame := &data.Frame{
		Key:     encKey,
		TypeID:  value.TypeID(),
		Payload: payload,
	}
	pos, err := b.appendFrame(frame)
	if err != nil {
		return err
	}

	if oldPos := b.index.Put(encKey, pos); oldPos != nil {
		b.reclaimSize += int64(oldPos.Size)
	}
	if b.options.Mode == EagerMode {
		b.cache[string(encKey)] = value
	}
	if key.IsInt() && key.Int() >= b.nextKey {
		b.nextKey = key.Int() + 1
	}

	b.watcher.publish(Event{Kind: EventPut, Key: key, Value: value}, string(encKey))
	b.maybeCompact()
	return nil
}

// appendFrame encodes and appends one frame, applying the durability policy.
func (b *Box) appendFrame(frame *data.Frame) (*data.FramePos, error) {
	encFrame, size := data.EncodeFrame(frame)
	offset, err := b.log.Append(encFrame)
	if err != nil {
		return nil, err
	}
	if err := b.syncAfterWrite(uint(size)); err != nil {
		return nil, err
	}
	return &data.FramePos{Offset: offset, Size: size}, nil
}

func (b *Box) syncAfterWrite(n uint) error {
	b.bytesWrite += n
	needSync := b.options.SyncWrites
	if !needSync && b.options.BytesPerSync > 0 && b.bytesWrite >= b.options.BytesPerSync {
		needSync = true
	}
	if needSync {
		if err := b.log.Sync(); err != nil {
			return err
		}
		b.bytesWrite = 0
	}
	return nil
}

func (b *Box) encodePayload(value codec.Value) ([]byte, error) {
	payload, err := b.registry.Encode(value)
	if err != nil {
		return nil, err
	}
	if b.cipher != nil {
		if payload, err = b.cipher.Encrypt(payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func (b *Box) decodePayload(typeID uint16, payload []byte) (codec.Value, error) {
	if b.cipher != nil {
		plain, err := b.cipher.Decrypt(payload)
		if err != nil {
			return nil, err
		}
		payload = plain
	}
	return b.registry.Decode(typeID, payload)
}

// loadIndexFromLog replays the log from the given offset, applying puts and
// tombstones in file order so the newest frame per key wins. Returns the
// logical end of the log.
func (b *Box) loadIndexFromLog(from int64) (int64, error) {
	eager := b.options.Mode == EagerMode
	return b.log.Scan(from, func(frame *data.Frame, pos *data.FramePos) error {
		if frame.Tombstone {
			oldPos, _ := b.index.Delete(frame.Key)
			b.reclaimSize += int64(pos.Size)
			if oldPos != nil {
				b.reclaimSize += int64(oldPos.Size)
			}
			delete(b.cache, string(frame.Key))
		} else {
			if oldPos := b.index.Put(frame.Key, pos); oldPos != nil {
				b.reclaimSize += int64(oldPos.Size)
			}
			if eager {
				value, err := b.decodePayload(frame.TypeID, frame.Payload)
				if err != nil {
					return err
				}
				b.cache[string(frame.Key)] = value
			}
		}

		// every integer key ever written moves the auto-increment floor,
		// tombstones included, so deleted keys are never reassigned
		if key, err := decodeKey(frame.Key); err == nil && key.IsInt() && key.Int() >= b.nextKey {
			b.nextKey = key.Int() + 1
		}
		return nil
	})
}

// loadNextKey reads the auto-increment sidecar written by the last clean
// Close, then removes it; a crash before Close just means the counter is
// re-derived from the scan. Returns whether the sidecar was present, which
// doubles as the clean-shutdown marker.
func (b *Box) loadNextKey() (bool, error) {
	seqPath := filepath.Join(b.options.DirPath, b.options.Name+data.SeqFileSuffix)
	if _, err := os.Stat(seqPath); os.IsNotExist(err) {
		return false, nil
	}

	seqFile, err := data.OpenLogFile(seqPath, fio.StandardFIO)
	if err != nil {
		return false, err
	}
	frame, _, err := seqFile.ReadFrame(0)
	if err != nil {
		_ = seqFile.Close()
		return false, err
	}
	next, err := strconv.ParseUint(string(frame.Payload), 10, 64)
	if err != nil {
		_ = seqFile.Close()
		return false, err
	}
	b.nextKey = next
	if err := seqFile.Close(); err != nil {
		return false, err
	}
	return true, os.Remove(seqPath)
}

func (b *Box) saveNextKey() error {
	seqPath := filepath.Join(b.options.DirPath, b.options.Name+data.SeqFileSuffix)
	_ = os.Remove(seqPath)
	seqFile, err := data.OpenLogFile(seqPath, fio.StandardFIO)
	if err != nil {
		return err
	}
	frame := &data.Frame{
		Key:     []byte(nextKeySeqKey),
		Payload: []byte(strconv.FormatUint(b.nextKey, 10)),
	}
	encFrame, _ := data.EncodeFrame(frame)
	if _, err := seqFile.Append(encFrame); err != nil {
		return err
	}
	if err := seqFile.Sync(); err != nil {
		return err
	}
	return seqFile.Close()
}

func checkOptions(options Options) error {
	if options.DirPath == "" {
		return errors.New("box dir path is empty")
	}
	if options.Name == "" {
		return errors.New("box name is empty")
	}
	if options.Registry == nil {
		return errors.New("box registry is nil")
	}
	if options.CompactionRatio < 0 || options.CompactionRatio > 1 {
		return errors.New("invalid compaction ratio, must be between 0 and 1")
	}
	if n := len(options.CipherKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return crypt.ErrInvalidKeySize
	}
	return nil
}
