// Package bloomfilter implements a Bloom filter keyed by 128-bit murmur3
// digests.
//
// Axion uses it as a pre-check in front of the known-spam fingerprint store:
// a negative answer is definitive and skips the exact lookup, a positive one
// may be a false positive and is confirmed against the exact set.
//
// Thread Safety: all methods are safe for concurrent access.
package bloomfilter

import (
	"math"
	"math/bits"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Filter is a probabilistic set.
//
// Sizing:
//   - m = -n*ln(p) / (ln(2)^2)  bits
//   - k = m/n * ln(2)           probes
type Filter struct {
	mu    sync.RWMutex
	words []uint64
	m     uint64
	k     uint64
	count uint64
	seed  uint32
}

// New creates a filter sized for expectedItems at the given false positive
// rate.
//
// Parameters:
//   - expectedItems: Number of items to store (default: 1000 if 0)
//   - fpRate: Desired false positive rate in (0,1) (default: 0.01)
//
// Example:
//
//	f := bloomfilter.New(10000, 0.01)
//	f.AddString("free nitro at example.gg")
//	if f.ContainsString(msg) { ... }
func New(expectedItems uint, fpRate float64) *Filter {
	return NewWithSeed(expectedItems, fpRate, 0)
}

// NewWithSeed is New with an explicit murmur3 seed, so that two processes
// sharing a persisted fingerprint list agree on bit positions.
func NewWithSeed(expectedItems uint, fpRate float64, seed uint32) *Filter {
	if expectedItems == 0 {
		expectedItems = 1000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}

	m := uint64(math.Ceil(-float64(expectedItems) * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	k := uint64(math.Ceil(float64(m) / float64(expectedItems) * math.Ln2))
	if k == 0 {
		k = 1
	}

	return &Filter{
		words: make([]uint64, (m+63)/64),
		m:     m,
		k:     k,
		seed:  seed,
	}
}

// Add inserts data.
func (f *Filter) Add(data []byte) {
	h1, h2 := murmur3.Sum128WithSeed(data, f.seed)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		f.words[pos>>6] |= 1 << (pos & 63)
	}
	f.count++
}

// AddString inserts s.
func (f *Filter) AddString(s string) {
	f.Add([]byte(s))
}

// Contains reports whether data may be in the set. False is definitive.
func (f *Filter) Contains(data []byte) bool {
	h1, h2 := murmur3.Sum128WithSeed(data, f.seed)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.m
		if f.words[pos>>6]&(1<<(pos&63)) == 0 {
			return false
		}
	}
	return true
}

// ContainsString reports whether s may be in the set.
func (f *Filter) ContainsString(s string) bool {
	return f.Contains([]byte(s))
}

// Count returns the number of Add calls since the last Clear.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// FillRatio returns the fraction of bits set. Above ~0.5 the false positive
// rate climbs quickly and the filter should be rebuilt larger.
func (f *Filter) FillRatio() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	set := 0
	for _, w := range f.words {
		set += bits.OnesCount64(w)
	}
	return float64(set) / float64(f.m)
}

// EstimatedFPRate returns fill_ratio^k.
func (f *Filter) EstimatedFPRate() float64 {
	return math.Pow(f.FillRatio(), float64(f.k))
}

// Clear empties the filter.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.words)
	f.count = 0
}
