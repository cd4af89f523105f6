// Package idgen generates the 26-character alphanumeric identifiers used
// for order ids and client (correlation) ids.
package idgen

import (
	"crypto/rand"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const idLength = 26

// New returns a fresh 26-character alphanumeric id. Uniqueness relies on
// crypto/rand, not a counter: the engine never needs these ids to sort in
// creation order, only to be collision-free.
func New() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		panic("idgen: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, idLength)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}
