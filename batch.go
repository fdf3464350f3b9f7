package boxstore

import (
	"bytes"

	"boxstore/codec"
	"boxstore/data"

	"golang.org/x/exp/slices"
)

// PutAll writes all entries in one append burst: every frame is encoded up
// front and written with a single write call, so the I/O operation count is
// O(1) instead of O(n). Per-key semantics match Put, including one change
// notification per entry.
func (b *Box) PutAll(entries map[Key]codec.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBoxClosed
	}
	if len(entries) == 0 {
		return nil
	}

	type pending struct {
		key      Key
		encKey   []byte
		value    codec.Value
		encFrame []byte
		size     uint32
	}

	batch := make([]pending, 0, len(entries))
	for key, value := range entries {
		payload, err := b.encodePayload(value)
		if err != nil {
			return err
		}
		encKey := key.encode()
		encFrame, size := data.EncodeFrame(&data.Frame{
			Key:     encKey,
			TypeID:  value.TypeID(),
			Payload: payload,
		})
		batch = append(batch, pending{
			key:      key,
			encKey:   encKey,
			value:    value,
			encFrame: encFrame,
			size:     size,
		})
	}
	// map iteration order is random, keep the burst deterministic
	slices.SortFunc(batch, func(a, c pending) int {
		return bytes.Compare(a.encKey, c.encKey)
	})

	var burst []byte
	for _, p := range batch {
		burst = append(burst, p.encFrame...)
	}
	base, err := b.log.Append(burst)
	if err != nil {
		return err
	}
	if err := b.syncAfterWrite(uint(len(burst))); err != nil {
		return err
	}

	offset := base
	for _, p := range batch {
		pos := &data.FramePos{Offset: offset, Size: p.size}
		offset += int64(p.size)

		if oldPos := b.index.Put(p.encKey, pos); oldPos != nil {
			b.reclaimSize += int64(oldPos.Size)
		}
		if b.options.Mode == EagerMode {
			b.cache[string(p.encKey)] = p.value
		}
		if p.key.IsInt() && p.key.Int() >= b.nextKey {
			b.nextKey = p.key.Int() + 1
		}
		b.watcher.publish(Event{Kind: EventPut, Key: p.key, Value: p.value}, string(p.encKey))
	}

	b.maybeCompact()
	return nil
}
