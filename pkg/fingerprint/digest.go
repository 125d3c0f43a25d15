package fingerprint

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// fuzzySlots is the number of MinHash slots in a fuzzy digest.
	fuzzySlots = 16
	// shingleSize is the character n-gram length fed to MinHash.
	shingleSize = 4
)

// slotSeeds decorrelate the per-slot hash functions.
var slotSeeds = func() [fuzzySlots]uint64 {
	var seeds [fuzzySlots]uint64
	for i := range seeds {
		seeds[i] = uint64(i+1) * 0x9e3779b97f4a7c15
	}
	return seeds
}()

// ExactDigest is a stable cryptographic digest of the cell body.
func ExactDigest(body string) string {
	sum := blake2b.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// FuzzyDigest is a MinHash signature of the cell's character shingles.
// Bodies that differ by small edits share most slots; whitespace runs are
// collapsed first so reindenting does not count as a change.
func FuzzyDigest(body string) string {
	var mins [fuzzySlots]uint64
	for i := range mins {
		mins[i] = ^uint64(0)
	}

	for _, sh := range shingles(normalize(body)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(sh))
		base := h.Sum64()
		for i := range mins {
			if v := mix(base ^ slotSeeds[i]); v < mins[i] {
				mins[i] = v
			}
		}
	}

	var sb strings.Builder
	sb.Grow(fuzzySlots * 4)
	for _, m := range mins {
		fmt.Fprintf(&sb, "%04x", uint16(m>>48))
	}
	return sb.String()
}

// FuzzyDistance counts the slots in which two fuzzy digests differ. It is 0
// for identical bodies and fuzzySlots for bodies with nothing in common.
func FuzzyDistance(a, b string) (int, error) {
	sa, err := decodeFuzzy(a)
	if err != nil {
		return 0, err
	}
	sb, err := decodeFuzzy(b)
	if err != nil {
		return 0, err
	}
	d := 0
	for i := range sa {
		if sa[i] != sb[i] {
			d++
		}
	}
	return d, nil
}

// MaxFuzzyDistance is the largest value FuzzyDistance returns.
const MaxFuzzyDistance = fuzzySlots

func decodeFuzzy(d string) ([fuzzySlots]uint16, error) {
	var slots [fuzzySlots]uint16
	if len(d) != fuzzySlots*4 {
		return slots, fmt.Errorf("fuzzy digest has length %d, want %d", len(d), fuzzySlots*4)
	}
	for i := range slots {
		v, err := strconv.ParseUint(d[i*4:i*4+4], 16, 16)
		if err != nil {
			return slots, fmt.Errorf("fuzzy digest slot %d: %w", i, err)
		}
		slots[i] = uint16(v)
	}
	return slots, nil
}

func normalize(body string) string {
	return strings.Join(strings.Fields(body), " ")
}

func shingles(s string) []string {
	r := []rune(s)
	if len(r) == 0 {
		return nil
	}
	if len(r) <= shingleSize {
		return []string{s}
	}
	out := make([]string, 0, len(r)-shingleSize+1)
	for i := 0; i+shingleSize <= len(r); i++ {
		out = append(out, string(r[i:i+shingleSize]))
	}
	return out
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
