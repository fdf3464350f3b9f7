package boxstore

import (
	"encoding/binary"
	"strconv"
)

const (
	intKeyTag    byte = 0x00
	stringKeyTag byte = 0x01
)

// Key identifies an entry in a box. Keys are either UTF-8 strings or
// non-negative integers; both coexist in one namespace per box. The zero
// value is IntKey(0).
type Key struct {
	str  string
	num  uint64
	kind byte
}

// IntKey builds an integer key.
func IntKey(n uint64) Key {
	return Key{kind: intKeyTag, num: n}
}

// StringKey builds a string key.
func StringKey(s string) Key {
	return Key{kind: stringKeyTag, str: s}
}

// IsInt reports whether the key is an integer key.
func (k Key) IsInt() bool {
	return k.kind == intKeyTag
}

// Int returns the integer value, 0 for string keys.
func (k Key) Int() uint64 {
	return k.num
}

// Str returns the string value, "" for integer keys.
func (k Key) Str() string {
	return k.str
}

// String renders the key for logs and errors.
func (k Key) String() string {
	if k.kind == intKeyTag {
		return strconv.FormatUint(k.num, 10)
	}
	return k.str
}

// encode produces the on-disk/index representation: a kind byte followed by
// a big-endian u64 or the raw UTF-8 bytes. Integer keys sort numerically and
// before all string keys, so index iteration order is stable.
func (k Key) encode() []byte {
	if k.kind == intKeyTag {
		buf := make([]byte, 9)
		buf[0] = intKeyTag
		binary.BigEndian.PutUint64(buf[1:], k.num)
		return buf
	}
	buf := make([]byte, 1+len(k.str))
	buf[0] = stringKeyTag
	copy(buf[1:], k.str)
	return buf
}

// decodeKey parses a key produced by encode.
func decodeKey(buf []byte) (Key, error) {
	if len(buf) == 0 {
		return Key{}, ErrInvalidKey
	}
	switch buf[0] {
	case intKeyTag:
		if len(buf) != 9 {
			return Key{}, ErrInvalidKey
		}
		return IntKey(binary.BigEndian.Uint64(buf[1:])), nil
	case stringKeyTag:
		return StringKey(string(buf[1:])), nil
	default:
		return Key{}, ErrInvalidKey
	}
}
