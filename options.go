package boxstore

import (
	"log/slog"
	"os"

	"boxstore/codec"
	"boxstore/index"
)

// Mode controls whether values are materialized in memory at open time or
// fetched from disk on demand. Both modes carry identical consistency
// guarantees; they differ only in memory footprint and read latency.
type Mode = int8

const (
	// EagerMode decodes every live value during the open scan and serves
	// reads from memory
	EagerMode Mode = iota

	// LazyMode keeps only positions in memory and reads + decodes per Get,
	// caching nothing
	LazyMode
)

type IndexType = index.IndexType

const (
	// BTreeIndex in-memory B tree index (default)
	BTreeIndex = index.Btree

	// ARTIndex in-memory adaptive radix tree index
	ARTIndex = index.ART

	// BPlusTreeIndex persistent bbolt-backed index, opens without a full
	// log replay
	BPlusTreeIndex = index.BPTree
)

type Options struct {
	// DirPath directory holding the box files
	DirPath string

	// Name box name, one log file per name
	Name string

	// Registry resolves typeIds to schemas; required
	Registry *codec.Registry

	// Mode eager or lazy value materialization
	Mode Mode

	// CipherKey optional 16/24/32 byte AES key; payloads are encrypted
	// when set. The key is never persisted.
	CipherKey []byte

	// IndexType index backend
	IndexType IndexType

	// SyncWrites fsync after every append
	SyncWrites bool

	// BytesPerSync fsync once this many bytes have accumulated
	BytesPerSync uint

	// CompactionRatio reclaimable/total bytes ratio that triggers automatic
	// compaction after a mutation; 0 disables the automatic trigger
	CompactionRatio float64

	// CompactOnClose run a final compaction in Close when there is
	// anything to reclaim
	CompactOnClose bool

	// MMapAtStartup memory-map the log for the open-time scan
	MMapAtStartup bool

	// Logger for open/recovery/compaction events; nil means slog.Default()
	Logger *slog.Logger
}

var DefaultOptions = Options{
	DirPath:         os.TempDir(),
	Name:            "box",
	Mode:            EagerMode,
	IndexType:       BTreeIndex,
	SyncWrites:      false,
	BytesPerSync:    0,
	CompactionRatio: 0.5,
	CompactOnClose:  false,
	MMapAtStartup:   false,
}
