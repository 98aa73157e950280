// Package bloom provides a murmur3 bloom filter for request-ID membership.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// DefaultFPR is the false positive rate used by NewIDSet.
const DefaultFPR = 0.001

// Filter answers "definitely absent" or "maybe present". A filter is built
// once and then only read, so it needs no locking.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter with at least numBits bits and numHashes probes.
func New(numBits, numHashes int) *Filter {
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	words := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, words),
		numBits:   uint64(words * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a filter for n items at false positive rate fpr.
func NewWithEstimates(n int, fpr float64) *Filter {
	return New(OptimalParameters(n, fpr))
}

// OptimalParameters returns m = -n ln(p) / ln(2)^2 bits and k = (m/n) ln(2)
// probes.
func OptimalParameters(n int, fpr float64) (numBits, numHashes int) {
	if n <= 0 {
		n = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = DefaultFPR
	}
	m := -float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)
	return int(math.Ceil(m)), int(math.Ceil(m / float64(n) * math.Ln2))
}

// NewIDSet builds a filter over ids.
func NewIDSet(ids []string) *Filter {
	f := NewWithEstimates(len(ids), DefaultFPR)
	for _, id := range ids {
		f.AddString(id)
	}
	return f
}

// Add inserts item.
func (f *Filter) Add(item []byte) {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// AddString inserts s.
func (f *Filter) AddString(s string) { f.Add([]byte(s)) }

// Contains reports whether item may have been added. False is exact.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// ContainsString reports whether s may have been added.
func (f *Filter) ContainsString(s string) bool { return f.Contains([]byte(s)) }

// Count returns the number of items added.
func (f *Filter) Count() uint64 { return f.count }

// NumBits returns the filter size in bits.
func (f *Filter) NumBits() int { return int(f.numBits) }

// EstimatedFPR is (1 - e^(-kn/m))^k for the items added so far.
func (f *Filter) EstimatedFPR() float64 {
	if f.count == 0 {
		return 0
	}
	k, n, m := float64(f.numHashes), float64(f.count), float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
