package boxstore

import (
	"os"

	"boxstore/data"
	"boxstore/fio"
	"boxstore/index"
	"boxstore/utils"
)

const compactFileSuffix = ".compact"

// Compact rewrites the log keeping only live keys. The index is the
// authoritative pointer set: every live key's current frame is copied to a
// temporary file which then atomically replaces the log. Live keys are never
// lost, deleted keys never resurrected, and the resulting file size is
// proportional to the number of live keys. Mutations block until the swap
// completes.
func (b *Box) Compact() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBoxClosed
	}
	return b.compactLocked()
}

type movedEntry struct {
	key []byte
	pos *data.FramePos
}

// compactLocked requires the write lock.
func (b *Box) compactLocked() error {
	if b.compacting {
		return ErrCompactInProgress
	}
	b.compacting = true
	defer func() {
		b.compacting = false
	}()

	oldSize := b.log.WriteOff
	// the live frames exist twice until the rename lands
	if available, err := utils.AvailableDiskSize(); err == nil {
		if uint64(oldSize-b.reclaimSize) >= available {
			return ErrNoEnoughSpace
		}
	}
	tmpPath := b.log.Path() + compactFileSuffix
	// a leftover temp file from an interrupted compaction is dead weight
	if _, err := os.Stat(tmpPath); err == nil {
		if err := os.Remove(tmpPath); err != nil {
			return err
		}
	}
	tmpFile, err := data.OpenLogFile(tmpPath, fio.StandardFIO)
	if err != nil {
		return err
	}

	// snapshot the live set first: the bbolt iterator holds a read
	// transaction that must end before the index is updated
	iterator := b.index.Iterator(false)
	live := make([]movedEntry, 0, b.index.Size())
	for iterator.Rewind(); iterator.Valid(); iterator.Next() {
		live = append(live, movedEntry{key: iterator.Key(), pos: iterator.Value()})
	}
	iterator.Close()

	moved := make([]movedEntry, 0, len(live))
	for _, entry := range live {
		frame, _, err := b.log.ReadFrame(entry.pos.Offset)
		if err != nil {
			_ = tmpFile.Close()
			return err
		}
		// payload bytes are copied as-is, no decode/re-encode round trip
		encFrame, size := data.EncodeFrame(frame)
		offset, err := tmpFile.Append(encFrame)
		if err != nil {
			_ = tmpFile.Close()
			return err
		}
		moved = append(moved, movedEntry{
			key: entry.key,
			pos: &data.FramePos{Offset: offset, Size: size},
		})
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// the original file stays untouched until this rename lands
	logPath := b.log.Path()
	if err := b.log.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, logPath); err != nil {
		return err
	}
	newLog, err := data.OpenLogFile(logPath, fio.StandardFIO)
	if err != nil {
		return err
	}
	b.log = newLog

	for _, entry := range moved {
		b.index.Put(entry.key, entry.pos)
	}
	if persistent, ok := b.index.(index.PersistentIndexer); ok {
		persistent.SetLastOffset(newLog.WriteOff)
	}
	b.reclaimSize = 0
	b.bytesWrite = 0

	b.logger.Info("compaction finished",
		"box", b.options.Name,
		"liveKeys", len(moved),
		"oldSize", oldSize,
		"newSize", newLog.WriteOff)
	return nil
}

// maybeCompact runs the automatic trigger after a mutation: compaction kicks
// in once reclaimable bytes exceed the configured share of the file.
func (b *Box) maybeCompact() {
	if b.options.CompactionRatio <= 0 || b.compacting {
		return
	}
	size := b.log.WriteOff
	if size <= 0 {
		return
	}
	if float64(b.reclaimSize)/float64(size) < b.options.CompactionRatio {
		return
	}
	if err := b.compactLocked(); err != nil {
		b.logger.Error("automatic compaction failed", "box", b.options.Name, "err", err)
	}
}
