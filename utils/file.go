package utils

import (
	"io/fs"
	"path/filepath"
	"syscall"
)

// DirSize returns the total size of all files under dirPath.
func DirSize(dirPath string) (int64, error) {
	var size int64
	err := filepath.Walk(dirPath, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// AvailableDiskSize returns the free disk space in bytes.
func AvailableDiskSize() (uint64, error) {
	var stat syscall.Statfs_t
	wd, err := syscall.Getwd()
	if err != nil {
		return 0, err
	}

	if err := syscall.Statfs(wd, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
