// Package codec maps typed values to and from fieldId-tagged binary field
// sets. Schemas are handwritten descriptors resolved statically, there is no
// reflection. Unknown fieldIds in stored data are skipped and fields missing
// from stored data keep their zero value, which is the sole mechanism for
// evolving a type without migrating old data.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrDuplicateTypeID = errors.New("type id is already registered")
	ErrUnknownType     = errors.New("type id is not registered")
	ErrBadPayload      = errors.New("malformed payload")
	ErrNilValue        = errors.New("value is nil")
)

// Value is implemented by every type stored through the codec. TypeID must
// return a stable integer that is never reassigned to a different type.
type Value interface {
	TypeID() uint16
}

// Kind is the wire tag of a field value. The tag makes every field
// self-describing so decoders can skip fields they do not know.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt       // zig-zag varint
	KindUint      // uvarint
	KindFloat     // 8-byte little-endian IEEE 754
	KindString    // uvarint length + bytes
	KindBytes     // uvarint length + bytes
	KindTyped     // u16 typeId + uvarint length + nested field set
)

// Field binds a fieldId to accessors on the Go value. Once a fieldId has
// shipped its meaning is permanent: retired ids may be dropped from the
// schema but never reused for something else.
type Field struct {
	ID   uint16
	Kind Kind
	Get  func(v Value) any
	Set  func(v Value, fv any)
}

// Schema describes how one type maps to a tagged binary field set.
type Schema struct {
	TypeID uint16
	New    func() Value
	Fields []Field
}

// Registry resolves typeIds to schemas. It is an explicit object owned by
// the embedding application, passed into Open, never global.
type Registry struct {
	schemas map[uint16]*Schema
	fields  map[uint16]map[uint16]*Field
}

func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[uint16]*Schema),
		fields:  make(map[uint16]map[uint16]*Field),
	}
}

// Register adds a schema. Registering two schemas with the same typeId fails.
func (r *Registry) Register(schema *Schema) error {
	if _, ok := r.schemas[schema.TypeID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateTypeID, schema.TypeID)
	}
	byID := make(map[uint16]*Field, len(schema.Fields))
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if _, ok := byID[f.ID]; ok {
			return fmt.Errorf("duplicate field id %d in type %d", f.ID, schema.TypeID)
		}
		byID[f.ID] = f
	}
	r.schemas[schema.TypeID] = schema
	r.fields[schema.TypeID] = byID
	return nil
}

// Schema returns the registered schema for a typeId.
func (r *Registry) Schema(typeID uint16) (*Schema, bool) {
	s, ok := r.schemas[typeID]
	return s, ok
}

// Encode serializes a value: a uvarint field count followed by
// (fieldId, kind tag, value) per schema-declared field. Nil nested values
// are omitted entirely.
func (r *Registry) Encode(v Value) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}
	schema, ok := r.schemas[v.TypeID()]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, v.TypeID())
	}

	var body []byte
	var count uint64
	for i := range schema.Fields {
		f := &schema.Fields[i]
		enc, ok, err := r.encodeField(f, f.Get(v))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var hdr [2 + 1]byte
		binary.LittleEndian.PutUint16(hdr[0:2], f.ID)
		hdr[2] = byte(f.Kind)
		body = append(body, hdr[:]...)
		body = append(body, enc...)
		count++
	}

	out := make([]byte, 0, binary.MaxVarintLen64+len(body))
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], count)
	out = append(out, tmp[:n]...)
	out = append(out, body...)
	return out, nil
}

// Decode deserializes a field set written for typeId under the current
// schema for that typeId. Unknown fieldIds are skipped, missing fields keep
// the zero value produced by the schema's New.
func (r *Registry) Decode(typeID uint16, buf []byte) (Value, error) {
	schema, ok := r.schemas[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}
	byID := r.fields[typeID]

	v := schema.New()
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, ErrBadPayload
	}
	idx := n
	for i := uint64(0); i < count; i++ {
		if idx+3 > len(buf) {
			return nil, ErrBadPayload
		}
		fieldID := binary.LittleEndian.Uint16(buf[idx : idx+2])
		kind := Kind(buf[idx+2])
		idx += 3

		// a fieldId absent from the current schema, or carried with a
		// different kind than the schema declares, is skipped without
		// being materialized
		f, known := byID[fieldID]
		if !known || f.Kind != kind {
			size, err := skipValue(kind, buf[idx:])
			if err != nil {
				return nil, err
			}
			idx += size
			continue
		}

		fv, size, err := r.decodeValue(kind, buf[idx:])
		if err != nil {
			return nil, err
		}
		idx += size
		f.Set(v, fv)
	}
	return v, nil
}

func (r *Registry) encodeField(f *Field, fv any) ([]byte, bool, error) {
	var tmp [binary.MaxVarintLen64]byte
	switch f.Kind {
	case KindBool:
		if fv.(bool) {
			return []byte{1}, true, nil
		}
		return []byte{0}, true, nil
	case KindInt:
		n := binary.PutVarint(tmp[:], fv.(int64))
		return append([]byte(nil), tmp[:n]...), true, nil
	case KindUint:
		n := binary.PutUvarint(tmp[:], fv.(uint64))
		return append([]byte(nil), tmp[:n]...), true, nil
	case KindFloat:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(fv.(float64)))
		return b[:], true, nil
	case KindString:
		return encodeBytes([]byte(fv.(string))), true, nil
	case KindBytes:
		return encodeBytes(fv.([]byte)), true, nil
	case KindTyped:
		if fv == nil {
			return nil, false, nil
		}
		nested, ok := fv.(Value)
		if !ok || nested == nil {
			return nil, false, nil
		}
		body, err := r.Encode(nested)
		if err != nil {
			return nil, false, err
		}
		out := make([]byte, 2, 2+binary.MaxVarintLen64+len(body))
		binary.LittleEndian.PutUint16(out[0:2], nested.TypeID())
		n := binary.PutUvarint(tmp[:], uint64(len(body)))
		out = append(out, tmp[:n]...)
		out = append(out, body...)
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported field kind %d", f.Kind)
	}
}

// decodeValue reads one field value of the given kind and returns it along
// with the number of bytes consumed. The kind tag alone determines the size,
// which is what lets decoders skip unknown fields.
func (r *Registry) decodeValue(kind Kind, buf []byte) (any, int, error) {
	switch kind {
	case KindBool:
		if len(buf) < 1 {
			return nil, 0, ErrBadPayload
		}
		return buf[0] == 1, 1, nil
	case KindInt:
		v, n := binary.Varint(buf)
		if n <= 0 {
			return nil, 0, ErrBadPayload
		}
		return v, n, nil
	case KindUint:
		v, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, 0, ErrBadPayload
		}
		return v, n, nil
	case KindFloat:
		if len(buf) < 8 {
			return nil, 0, ErrBadPayload
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[:8])), 8, nil
	case KindString:
		b, n, err := decodeBytes(buf)
		if err != nil {
			return nil, 0, err
		}
		return string(b), n, nil
	case KindBytes:
		b, n, err := decodeBytes(buf)
		if err != nil {
			return nil, 0, err
		}
		return append([]byte(nil), b...), n, nil
	case KindTyped:
		if len(buf) < 2 {
			return nil, 0, ErrBadPayload
		}
		typeID := binary.LittleEndian.Uint16(buf[0:2])
		body, n, err := decodeBytes(buf[2:])
		if err != nil {
			return nil, 0, err
		}
		nested, err := r.Decode(typeID, body)
		if err != nil {
			return nil, 0, err
		}
		return nested, 2 + n, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown field kind %d", ErrBadPayload, kind)
	}
}

// skipValue returns the encoded size of one field value without decoding it.
func skipValue(kind Kind, buf []byte) (int, error) {
	switch kind {
	case KindBool:
		if len(buf) < 1 {
			return 0, ErrBadPayload
		}
		return 1, nil
	case KindInt:
		_, n := binary.Varint(buf)
		if n <= 0 {
			return 0, ErrBadPayload
		}
		return n, nil
	case KindUint:
		_, n := binary.Uvarint(buf)
		if n <= 0 {
			return 0, ErrBadPayload
		}
		return n, nil
	case KindFloat:
		if len(buf) < 8 {
			return 0, ErrBadPayload
		}
		return 8, nil
	case KindString, KindBytes:
		_, n, err := decodeBytes(buf)
		return n, err
	case KindTyped:
		if len(buf) < 2 {
			return 0, ErrBadPayload
		}
		_, n, err := decodeBytes(buf[2:])
		return 2 + n, err
	default:
		return 0, fmt.Errorf("%w: unknown field kind %d", ErrBadPayload, kind)
	}
}

func encodeBytes(b []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(b)))
	out := make([]byte, 0, n+len(b))
	out = append(out, tmp[:n]...)
	out = append(out, b...)
	return out
}

func decodeBytes(buf []byte) ([]byte, int, error) {
	size, n := binary.Uvarint(buf)
	// size is attacker-controlled, compare without adding to avoid wrap
	if n <= 0 || size > uint64(len(buf)-n) {
		return nil, 0, ErrBadPayload
	}
	return buf[n : uint64(n)+size], n + int(size), nil
}
