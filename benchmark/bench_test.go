package benchmark

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"boxstore"
	"boxstore/codec"
	"boxstore/utils"
)

const entryTypeID = 1

type entry struct {
	Body string
}

func (e *entry) TypeID() uint16 { return entryTypeID }

var box *boxstore.Box

func init() {
	reg := codec.NewRegistry()
	if err := reg.Register(&codec.Schema{
		TypeID: entryTypeID,
		New:    func() codec.Value { return &entry{} },
		Fields: []codec.Field{
			{ID: 1, Kind: codec.KindString,
				Get: func(v codec.Value) any { return v.(*entry).Body },
				Set: func(v codec.Value, fv any) { v.(*entry).Body = fv.(string) }},
		},
	}); err != nil {
		panic(err)
	}

	options := boxstore.DefaultOptions
	dir, _ := os.MkdirTemp("", "boxstore-benchmark")
	options.DirPath = dir
	options.Name = "bench"
	options.Registry = reg
	options.Mode = boxstore.LazyMode
	options.CompactionRatio = 0

	var err error
	box, err = boxstore.Open(options)
	if err != nil {
		panic(fmt.Sprintf("failed to open box: %v", err))
	}
}

func Benchmark_Put(b *testing.B) {
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		err := box.Put(boxstore.StringKey(utils.GetTestKey(i)), &entry{Body: utils.RandomValue(1024)})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func Benchmark_Get(b *testing.B) {
	for i := 0; i < 10000; i++ {
		err := box.Put(boxstore.StringKey(utils.GetTestKey(i)), &entry{Body: utils.RandomValue(1024)})
		if err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _, err := box.Get(boxstore.StringKey(utils.GetTestKey(rand.Intn(10000))))
		if err != nil && !errors.Is(err, boxstore.ErrBoxClosed) {
			b.Fatal(err)
		}
	}
}

func Benchmark_Delete(b *testing.B) {
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := box.Delete(boxstore.StringKey(utils.GetTestKey(rand.Int())))
		if err != nil {
			b.Fatal(err)
		}
	}
}

func Benchmark_Add(b *testing.B) {
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := box.Add(&entry{Body: utils.RandomValue(128)}); err != nil {
			b.Fatal(err)
		}
	}
}
