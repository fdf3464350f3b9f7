package fio

import (
	"errors"
	"os"

	"golang.org/x/exp/mmap"
)

// MMap memory-mapped read-only IO, speeds up the open-time scan.
type MMap struct {
	readerAt *mmap.ReaderAt
}

// NewMMapIOManager maps an existing file for reads.
func NewMMapIOManager(fileName string) (*MMap, error) {
	_, err := os.Stat(fileName)
	if os.IsNotExist(err) {
		// scan over an empty box, create the file so ReaderAt succeeds
		fd, err := os.OpenFile(fileName, os.O_CREATE, DataFilePerm)
		if err != nil {
			return nil, err
		}
		if err := fd.Close(); err != nil {
			return nil, err
		}
	}
	readerAt, err := mmap.Open(fileName)
	if err != nil {
		return nil, err
	}
	return &MMap{readerAt: readerAt}, nil
}

func (mm *MMap) Read(b []byte, offset int64) (int, error) {
	return mm.readerAt.ReadAt(b, offset)
}

func (mm *MMap) Write([]byte) (int, error) {
	return 0, errors.New("mmap io manager is read-only")
}

func (mm *MMap) Sync() error {
	return errors.New("mmap io manager is read-only")
}

func (mm *MMap) Close() error {
	return mm.readerAt.Close()
}

func (mm *MMap) Size() (int64, error) {
	return int64(mm.readerAt.Len()), nil
}
