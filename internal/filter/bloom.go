package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// CodeFilter is a concurrency-safe Bloom filter over issued short codes.
// A negative answer is definite, so code generation only hits the store
// when the filter reports a possible collision.
type CodeFilter struct {
	filter *bloom.BloomFilter
	mu     sync.RWMutex
}

func NewCodeFilter(capacity uint, fpRate float64) *CodeFilter {
	return &CodeFilter{
		filter: bloom.NewWithEstimates(capacity, fpRate),
	}
}

func (f *CodeFilter) Add(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(code)
}

func (f *CodeFilter) AddBatch(codes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range codes {
		f.filter.AddString(code)
	}
}

// MayContain returns false only when code was never added.
func (f *CodeFilter) MayContain(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(code)
}
