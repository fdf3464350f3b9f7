package fio

const DataFilePerm = 0644

type FileIOType = byte

const (
	// StandardFIO standard file IO
	StandardFIO FileIOType = iota

	// MemoryMap read-only memory-mapped IO, only usable for the open-time scan
	MemoryMap
)

// IOManager abstracts file IO so different backends can be plugged in.
type IOManager interface {
	// Read reads len(b) bytes from the file at the given offset
	Read([]byte, int64) (int, error)

	// Write appends the byte slice to the file
	Write([]byte) (int, error)

	// Sync flushes buffered data to stable storage
	Sync() error

	// Close closes the file
	Close() error

	// Size returns the current file size
	Size() (int64, error)
}

// NewIOManager builds an IOManager of the given type for the given path.
func NewIOManager(fileName string, ioType FileIOType) (IOManager, error) {
	switch ioType {
	case StandardFIO:
		return NewFileIOManager(fileName)
	case MemoryMap:
		return NewMMapIOManager(fileName)
	default:
		panic("unsupported io type")
	}
}
