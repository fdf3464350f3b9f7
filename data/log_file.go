package data

import (
	"encoding/binary"
	"io"
	"os"

	"boxstore/fio"
)

const (
	// LogFileSuffix box log files
	LogFileSuffix = ".box"

	// SeqFileSuffix auto-increment counter sidecar
	SeqFileSuffix = ".seq"
)

// LogFile is an append-only sequence of frames backing one box.
type LogFile struct {
	WriteOff  int64 // logical end of the file, next append goes here
	path      string
	ioManager fio.IOManager
}

// OpenLogFile opens (creating if needed) the log file at path.
func OpenLogFile(path string, ioType fio.FileIOType) (*LogFile, error) {
	ioManager, err := fio.NewIOManager(path, ioType)
	if err != nil {
		return nil, err
	}
	size, err := ioManager.Size()
	if err != nil {
		return nil, err
	}
	return &LogFile{
		WriteOff:  size,
		path:      path,
		ioManager: ioManager,
	}, nil
}

// Append writes an encoded frame as a single write and returns its offset.
func (lf *LogFile) Append(frame []byte) (int64, error) {
	offset := lf.WriteOff
	n, err := lf.ioManager.Write(frame)
	if err != nil {
		return 0, err
	}
	lf.WriteOff += int64(n)
	return offset, nil
}

// ReadFrame reads and decodes the frame starting at offset. Returns io.EOF
// when offset is at or past the logical end, ErrInvalidCRC when the bytes at
// offset do not form a complete valid frame.
func (lf *LogFile) ReadFrame(offset int64) (*Frame, uint32, error) {
	size, err := lf.ioManager.Size()
	if err != nil {
		return nil, 0, err
	}
	if offset >= size {
		return nil, 0, io.EOF
	}
	if offset+4 > size {
		// tail torn inside the length prefix
		return nil, 0, ErrInvalidCRC
	}

	lenBuf := make([]byte, 4)
	if _, err := lf.ioManager.Read(lenBuf, offset); err != nil {
		return nil, 0, err
	}
	total := binary.LittleEndian.Uint32(lenBuf)
	if total < MinFrameSize || total > MaxFrameSize {
		return nil, 0, ErrInvalidCRC
	}
	if offset+int64(total) > size {
		// torn tail write
		return nil, 0, ErrInvalidCRC
	}

	buf := make([]byte, total)
	if _, err := lf.ioManager.Read(buf, offset); err != nil {
		return nil, 0, err
	}
	frame, err := DecodeFrame(buf)
	if err != nil {
		return nil, 0, err
	}
	return frame, total, nil
}

// Scan walks frames in file order starting at from, invoking fn for each
// complete checksum-valid frame. It stops at the first incomplete or
// corrupted frame and returns the offset just past the last valid one.
// Corruption is the designed termination signal, not an error; genuine IO
// failures are returned as such.
func (lf *LogFile) Scan(from int64, fn func(frame *Frame, pos *FramePos) error) (int64, error) {
	offset := from
	for {
		frame, size, err := lf.ReadFrame(offset)
		if err == io.EOF || err == ErrInvalidCRC {
			return offset, nil
		}
		if err != nil {
			return offset, err
		}
		if fn != nil {
			if err := fn(frame, &FramePos{Offset: offset, Size: size}); err != nil {
				return offset, err
			}
		}
		offset += int64(size)
	}
}

// Truncate drops everything at and after offset. Used after a recovery scan
// detects a torn tail, and requires the standard IO manager.
func (lf *LogFile) Truncate(offset int64) error {
	if err := os.Truncate(lf.path, offset); err != nil {
		return err
	}
	lf.WriteOff = offset
	return nil
}

// Sync flushes buffered writes to stable storage.
func (lf *LogFile) Sync() error {
	return lf.ioManager.Sync()
}

// Close closes the underlying file.
func (lf *LogFile) Close() error {
	return lf.ioManager.Close()
}

// Size returns the physical file size.
func (lf *LogFile) Size() (int64, error) {
	return lf.ioManager.Size()
}

// Path returns the file path.
func (lf *LogFile) Path() string {
	return lf.path
}

// SetIOManager swaps the IO backend, e.g. from mmap back to standard file IO
// once the open-time scan is done.
func (lf *LogFile) SetIOManager(ioType fio.FileIOType) error {
	if err := lf.ioManager.Close(); err != nil {
		return err
	}
	ioManager, err := fio.NewIOManager(lf.path, ioType)
	if err != nil {
		return err
	}
	lf.ioManager = ioManager
	return nil
}
