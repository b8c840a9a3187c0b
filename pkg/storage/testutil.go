package storage

import (
	"log"
	"math/rand"
	"os"
	"strconv"
)

// Seed reads CRUSTY_SEED from the environment and returns a deterministic
// source when it parses as an unsigned integer. Absent or unparseable, it
// falls back to a random seed and logs which one it picked, so a flaky
// run can be reproduced afterward.
func Seed() *rand.Rand {
	if raw, ok := os.LookupEnv("CRUSTY_SEED"); ok {
		if seed, err := strconv.ParseUint(raw, 10, 64); err == nil {
			log.Printf("storage: using CRUSTY_SEED=%d", seed)
			return rand.New(rand.NewSource(int64(seed)))
		}
	}
	seed := rand.Int63()
	log.Printf("storage: CRUSTY_SEED unset or unparseable, using random seed %d", seed)
	return rand.New(rand.NewSource(seed))
}

// RandomByteVec returns n random bytes drawn from r.
func RandomByteVec(r *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

// RandomInt returns a random integer in [min, max], inclusive.
func RandomInt(r *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	return min + r.Intn(max-min+1)
}

// RandomVecOfByteVec returns n random byte slices, each with a length
// drawn uniformly from [minLen, maxLen].
func RandomVecOfByteVec(r *rand.Rand, n, minLen, maxLen int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = RandomByteVec(r, RandomInt(r, minLen, maxLen))
	}
	return out
}

// CompareUnorderedByteVecs reports whether a and b contain the same
// multiset of byte slices, ignoring order.
func CompareUnorderedByteVecs(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	remaining := make([][]byte, len(b))
	copy(remaining, b)

	for _, want := range a {
		found := -1
		for i, got := range remaining {
			if string(got) == string(want) {
				found = i
				break
			}
		}
		if found == -1 {
			return false
		}
		last := len(remaining) - 1
		remaining[found] = remaining[last]
		remaining = remaining[:last]
	}
	return true
}
