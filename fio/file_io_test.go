package fio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileIO_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.data")
	fio, err := NewFileIOManager(path)
	require.Nil(t, err)
	defer fio.Close()

	n, err := fio.Write([]byte("hello"))
	assert.Nil(t, err)
	assert.Equal(t, 5, n)

	n, err = fio.Write([]byte("-box"))
	assert.Nil(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	n, err = fio.Read(buf, 5)
	assert.Nil(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("-box"), buf)

	size, err := fio.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(9), size)

	assert.Nil(t, fio.Sync())
}

func TestMMap_Read(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mmap.data")

	std, err := NewFileIOManager(path)
	require.Nil(t, err)
	_, err = std.Write([]byte("mapped bytes"))
	require.Nil(t, err)
	require.Nil(t, std.Close())

	mm, err := NewMMapIOManager(path)
	require.Nil(t, err)
	defer mm.Close()

	size, err := mm.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(12), size)

	buf := make([]byte, 6)
	n, err := mm.Read(buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("mapped"), buf)

	// writes are rejected
	_, err = mm.Write([]byte("x"))
	assert.NotNil(t, err)
}
