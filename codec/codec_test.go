package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	personTypeID  = 1
	addressTypeID = 2
)

type person struct {
	Name    string
	Age     int64
	Score   float64
	Active  bool
	Blob    []byte
	Count   uint64
	Address *address
}

func (p *person) TypeID() uint16 { return personTypeID }

type address struct {
	City string
	Zip  int64
}

func (a *address) TypeID() uint16 { return addressTypeID }

func addressSchema() *Schema {
	return &Schema{
		TypeID: addressTypeID,
		New:    func() Value { return &address{} },
		Fields: []Field{
			{ID: 1, Kind: KindString,
				Get: func(v Value) any { return v.(*address).City },
				Set: func(v Value, fv any) { v.(*address).City = fv.(string) }},
			{ID: 2, Kind: KindInt,
				Get: func(v Value) any { return v.(*address).Zip },
				Set: func(v Value, fv any) { v.(*address).Zip = fv.(int64) }},
		},
	}
}

func personSchema() *Schema {
	return &Schema{
		TypeID: personTypeID,
		New:    func() Value { return &person{} },
		Fields: []Field{
			{ID: 1, Kind: KindString,
				Get: func(v Value) any { return v.(*person).Name },
				Set: func(v Value, fv any) { v.(*person).Name = fv.(string) }},
			{ID: 2, Kind: KindInt,
				Get: func(v Value) any { return v.(*person).Age },
				Set: func(v Value, fv any) { v.(*person).Age = fv.(int64) }},
			{ID: 3, Kind: KindFloat,
				Get: func(v Value) any { return v.(*person).Score },
				Set: func(v Value, fv any) { v.(*person).Score = fv.(float64) }},
			{ID: 4, Kind: KindBool,
				Get: func(v Value) any { return v.(*person).Active },
				Set: func(v Value, fv any) { v.(*person).Active = fv.(bool) }},
			{ID: 5, Kind: KindBytes,
				Get: func(v Value) any { return v.(*person).Blob },
				Set: func(v Value, fv any) { v.(*person).Blob = fv.([]byte) }},
			{ID: 6, Kind: KindUint,
				Get: func(v Value) any { return v.(*person).Count },
				Set: func(v Value, fv any) { v.(*person).Count = fv.(uint64) }},
			{ID: 7, Kind: KindTyped,
				Get: func(v Value) any {
					if v.(*person).Address == nil {
						return nil
					}
					return v.(*person).Address
				},
				Set: func(v Value, fv any) { v.(*person).Address = fv.(*address) }},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	reg := NewRegistry()
	require.Nil(t, reg.Register(addressSchema()))
	require.Nil(t, reg.Register(personSchema()))
	return reg
}

func TestRegistry_RoundTrip(t *testing.T) {
	reg := newTestRegistry(t)

	p := &person{
		Name:    "ada",
		Age:     -36,
		Score:   99.25,
		Active:  true,
		Blob:    []byte{0, 1, 2, 255},
		Count:   1 << 40,
		Address: &address{City: "london", Zip: 12345},
	}
	buf, err := reg.Encode(p)
	assert.Nil(t, err)
	assert.NotNil(t, buf)

	got, err := reg.Decode(personTypeID, buf)
	assert.Nil(t, err)
	assert.Equal(t, p, got)
}

func TestRegistry_RoundTripZeroValues(t *testing.T) {
	reg := newTestRegistry(t)

	buf, err := reg.Encode(&person{})
	assert.Nil(t, err)

	got, err := reg.Decode(personTypeID, buf)
	assert.Nil(t, err)
	p := got.(*person)
	assert.Equal(t, "", p.Name)
	assert.Equal(t, int64(0), p.Age)
	assert.False(t, p.Active)
	// nil nested values are omitted from the wire and stay nil
	assert.Nil(t, p.Address)
}

func TestRegistry_DuplicateTypeID(t *testing.T) {
	reg := NewRegistry()
	assert.Nil(t, reg.Register(personSchema()))
	err := reg.Register(personSchema())
	assert.ErrorIs(t, err, ErrDuplicateTypeID)
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := NewRegistry()
	require.Nil(t, reg.Register(addressSchema()))

	_, err := reg.Encode(&person{Name: "x"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = reg.Decode(personTypeID, []byte{0})
	assert.ErrorIs(t, err, ErrUnknownType)
}

// oldPerson is the same typeId as person but with the original two-field
// schema, standing in for data written before the type grew new fields.
type oldPerson struct {
	Name string
	Age  int64
}

func (p *oldPerson) TypeID() uint16 { return personTypeID }

func oldPersonSchema() *Schema {
	return &Schema{
		TypeID: personTypeID,
		New:    func() Value { return &oldPerson{} },
		Fields: []Field{
			{ID: 1, Kind: KindString,
				Get: func(v Value) any { return v.(*oldPerson).Name },
				Set: func(v Value, fv any) { v.(*oldPerson).Name = fv.(string) }},
			{ID: 2, Kind: KindInt,
				Get: func(v Value) any { return v.(*oldPerson).Age },
				Set: func(v Value, fv any) { v.(*oldPerson).Age = fv.(int64) }},
		},
	}
}

func TestRegistry_SchemaEvolution(t *testing.T) {
	oldReg := NewRegistry()
	require.Nil(t, oldReg.Register(oldPersonSchema()))
	newReg := newTestRegistry(t)

	// data written under the old schema decodes under the extended one,
	// added fields keep their defaults
	oldBuf, err := oldReg.Encode(&oldPerson{Name: "grace", Age: 85})
	assert.Nil(t, err)
	got, err := newReg.Decode(personTypeID, oldBuf)
	assert.Nil(t, err)
	p := got.(*person)
	assert.Equal(t, "grace", p.Name)
	assert.Equal(t, int64(85), p.Age)
	assert.Equal(t, float64(0), p.Score)
	assert.Nil(t, p.Address)

	// data written under the extended schema decodes under the old one,
	// unknown fields are skipped even when their nested type is unregistered
	newBuf, err := newReg.Encode(&person{
		Name:    "grace",
		Age:     85,
		Score:   3.5,
		Address: &address{City: "nyc"},
	})
	assert.Nil(t, err)
	gotOld, err := oldReg.Decode(personTypeID, newBuf)
	assert.Nil(t, err)
	op := gotOld.(*oldPerson)
	assert.Equal(t, "grace", op.Name)
	assert.Equal(t, int64(85), op.Age)
}

func TestRegistry_BadPayload(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Decode(personTypeID, nil)
	assert.ErrorIs(t, err, ErrBadPayload)

	// field count claims more fields than the buffer holds
	_, err = reg.Decode(personTypeID, []byte{5, 1})
	assert.ErrorIs(t, err, ErrBadPayload)

	// a length uvarint near MaxUint64 must fail the bounds check, not wrap
	// it and panic
	huge := []byte{
		0x01,                   // field count
		0x05, 0x00,             // fieldId 5 (Blob)
		byte(KindBytes),        // kind tag
		0xff, 0xff, 0xff, 0xff, // uvarint 2^64-1
		0xff, 0xff, 0xff, 0xff,
		0xff, 0x01,
	}
	assert.NotPanics(t, func() {
		_, err = reg.Decode(personTypeID, huge)
		assert.ErrorIs(t, err, ErrBadPayload)
	})
}
