package utils

import (
	"fmt"
	"math/rand"
)

var letters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// GetTestKey builds a deterministic test key string.
func GetTestKey(i int) string {
	return fmt.Sprintf("boxstore-key-%09d", i)
}

// RandomValue builds a random printable string of length n, for tests and
// benchmarks.
func RandomValue(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
