package testenv

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/stretchr/testify/assert"
)

// RandBytes fills []byte with non-crypto-safe random bytes.
func RandBytes(p []byte) {
	rand.New(rand.NewSource(rand.Int63())).Read(p)
}

// MakeBytes returns a []byte of given length with random content.
func MakeBytes(n int) []byte {
	p := make([]byte, n)
	RandBytes(p)
	return p
}

// BytesFromHex converts a hexadecimal string to a byte slice.
// The octets must be written as upper case.
// All characters other than [0-9A-F] are considered comments and stripped.
func BytesFromHex(input string) []byte {
	s := strings.Map(func(ch rune) rune {
		if strings.ContainsRune("0123456789ABCDEF", ch) {
			return ch
		}
		return -1
	}, input)
	decoded, e := hex.DecodeString(s)
	if e != nil {
		panic(fmt.Errorf("hex.DecodeString error %w", e))
	}
	return decoded
}

// BytesEqual asserts that actual bytes equals expected bytes.
// It considers nil slice and zero-length slice to be the same.
// On mismatch, only the first differing offset is reported, because DMA payloads are often large.
func BytesEqual(a *assert.Assertions, expected, actual []byte, msgAndArgs ...any) bool {
	if len(expected) == 0 && len(actual) == 0 {
		return true
	}
	if !a.Len(actual, len(expected), msgAndArgs...) {
		return false
	}
	for i := range expected {
		if expected[i] != actual[i] {
			return a.Fail(fmt.Sprintf("bytes differ at offset %d: expected %02x, actual %02x", i, expected[i], actual[i]), msgAndArgs...)
		}
	}
	return true
}
