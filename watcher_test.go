package boxstore

import (
	"testing"

	"boxstore/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBox_Listen(t *testing.T) {
	box, err := Open(testOptions(t))
	defer destroyBox(box)
	require.Nil(t, err)

	var events []Event
	sub, err := box.Listen(func(ev Event) {
		events = append(events, ev)
	})
	require.Nil(t, err)
	defer sub.Cancel()

	require.Nil(t, box.Put(StringKey("a"), &note{Count: 1}))
	require.Nil(t, box.Delete(StringKey("a")))

	require.Len(t, events, 2)
	assert.Equal(t, EventPut, events[0].Kind)
	assert.Equal(t, StringKey("a"), events[0].Key)
	assert.Equal(t, int64(1), events[0].Value.(*note).Count)
	assert.Equal(t, EventDelete, events[1].Kind)
	assert.Nil(t, events[1].Value)
}

func TestBox_ListenKeyFilter(t *testing.T) {
	box, err := Open(testOptions(t))
	defer destroyBox(box)
	require.Nil(t, err)

	var events []Event
	sub, err := box.Listen(func(ev Event) {
		events = append(events, ev)
	}, StringKey("x"))
	require.Nil(t, err)
	defer sub.Cancel()

	// a put outside the filter fires nothing
	require.Nil(t, box.Put(StringKey("y"), &note{Count: 1}))
	assert.Empty(t, events)

	// a put on the filtered key fires exactly once with the new value
	require.Nil(t, box.Put(StringKey("x"), &note{Count: 7}))
	require.Len(t, events, 1)
	assert.Equal(t, StringKey("x"), events[0].Key)
	assert.Equal(t, int64(7), events[0].Value.(*note).Count)
}

func TestBox_ListenDeliveryBeforeReturn(t *testing.T) {
	box, err := Open(testOptions(t))
	defer destroyBox(box)
	require.Nil(t, err)

	// the index update happens before delivery, so the handler already
	// sees the new state. The handler runs inside the mutating call with
	// the box lock held, so it reads the cache directly.
	var seen bool
	_, err = box.Listen(func(ev Event) {
		v := box.cache[string(ev.Key.encode())]
		require.NotNil(t, v)
		assert.Equal(t, int64(5), v.(*note).Count)
		seen = true
	})
	require.Nil(t, err)

	require.Nil(t, box.Put(StringKey("k"), &note{Count: 5}))
	assert.True(t, seen)
}

func TestBox_ListenPutAll(t *testing.T) {
	box, err := Open(testOptions(t))
	defer destroyBox(box)
	require.Nil(t, err)

	var count int
	_, err = box.Listen(func(ev Event) { count++ })
	require.Nil(t, err)

	require.Nil(t, box.PutAll(map[Key]codec.Value{
		StringKey("a"): &note{Count: 1},
		StringKey("b"): &note{Count: 2},
		StringKey("c"): &note{Count: 3},
	}))
	assert.Equal(t, 3, count)
}

func TestSubscription_CancelIdempotent(t *testing.T) {
	box, err := Open(testOptions(t))
	defer destroyBox(box)
	require.Nil(t, err)

	var count int
	sub, err := box.Listen(func(ev Event) { count++ })
	require.Nil(t, err)

	require.Nil(t, box.Put(StringKey("a"), &note{}))
	assert.Equal(t, 1, count)

	sub.Cancel()
	sub.Cancel() // second cancel is a no-op

	require.Nil(t, box.Put(StringKey("b"), &note{}))
	assert.Equal(t, 1, count)
}

func TestBox_CloseCancelsSubscriptions(t *testing.T) {
	opts := testOptions(t)
	box, err := Open(opts)
	require.Nil(t, err)

	var count int
	_, err = box.Listen(func(ev Event) { count++ })
	require.Nil(t, err)
	require.Nil(t, box.Close())

	// reopening the same box starts with no subscribers
	box, err = Open(opts)
	defer destroyBox(box)
	require.Nil(t, err)
	require.Nil(t, box.Put(StringKey("a"), &note{}))
	assert.Equal(t, 0, count)
}
