package boxstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_EncodeDecode(t *testing.T) {
	for _, key := range []Key{
		IntKey(0),
		IntKey(42),
		IntKey(1 << 60),
		StringKey(""),
		StringKey("hello"),
		StringKey("日本語"),
	} {
		got, err := decodeKey(key.encode())
		assert.Nil(t, err)
		assert.Equal(t, key, got)
	}
}

func TestKey_Ordering(t *testing.T) {
	// integer keys sort numerically and before all string keys
	ordered := []Key{IntKey(0), IntKey(1), IntKey(255), IntKey(256), StringKey(""), StringKey("a"), StringKey("b")}
	for i := 0; i < len(ordered)-1; i++ {
		a, b := ordered[i].encode(), ordered[i+1].encode()
		assert.Negative(t, bytes.Compare(a, b), "%v should sort before %v", ordered[i], ordered[i+1])
	}
}

func TestKey_Accessors(t *testing.T) {
	ik := IntKey(7)
	assert.True(t, ik.IsInt())
	assert.Equal(t, uint64(7), ik.Int())
	assert.Equal(t, "7", ik.String())

	sk := StringKey("name")
	assert.False(t, sk.IsInt())
	assert.Equal(t, "name", sk.Str())
	assert.Equal(t, "name", sk.String())

	// the zero value is IntKey(0)
	var zero Key
	assert.True(t, zero.IsInt())
	assert.Equal(t, uint64(0), zero.Int())
}

func TestKey_DecodeInvalid(t *testing.T) {
	_, err := decodeKey(nil)
	assert.Equal(t, ErrInvalidKey, err)

	_, err = decodeKey([]byte{0x00, 1, 2}) // int key must be exactly 9 bytes
	assert.Equal(t, ErrInvalidKey, err)

	_, err = decodeKey([]byte{0x7f, 1}) // unknown tag
	assert.Equal(t, ErrInvalidKey, err)
}
