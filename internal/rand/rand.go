// Package rand generates short random identifier strings, used for the
// freshness token appended to critical reload URLs.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var charsetLen = len(charset)

var source = newSource()

type lockedRand struct {
	mut sync.Mutex
	rng *rand.Rand
}

func newSource() *lockedRand {
	seed := make([]byte, 16)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &lockedRand{
		//nolint:gosec // tokens only need uniqueness, not unpredictability
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// String returns a random alphanumeric string of the given length.
// The distribution over the charset is uniform.
func String(length int) string {
	buf := make([]byte, length)

	source.mut.Lock()
	for i := range buf {
		buf[i] = charset[source.rng.IntN(charsetLen)]
	}
	source.mut.Unlock()

	return string(buf)
}
