// Package bloom wraps a serializable bloom filter with the sizing rules the
// dedup store relies on.
package bloom

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bbloom "github.com/bits-and-blooms/bloom/v3"
)

const (
	// DefaultCapacity is used for filters created on first reference.
	DefaultCapacity = 1_000_000
	// DefaultErrorRate is the target false-positive rate for new filters.
	DefaultErrorRate = 0.001
	// MinRebuildCapacity is the floor for filters rebuilt from the item log.
	MinRebuildCapacity = 100_000
)

// Filter is a probabilistic set of strings.
type Filter struct {
	f *bbloom.BloomFilter
}

// New sizes a filter for capacity items at errorRate.
func New(capacity uint, errorRate float64) (*Filter, error) {
	if err := ValidateParams(capacity, errorRate); err != nil {
		return nil, err
	}
	return &Filter{f: bbloom.NewWithEstimates(capacity, errorRate)}, nil
}

// ValidateParams checks filter sizing arguments.
func ValidateParams(capacity uint, errorRate float64) error {
	if capacity == 0 {
		return errors.New("capacity must be positive")
	}
	if errorRate <= 0 || errorRate >= 1 {
		return fmt.Errorf("error rate %v must be between 0 and 1", errorRate)
	}
	return nil
}

// RebuildCapacity returns the capacity for a filter rebuilt from n items.
func RebuildCapacity(n int) uint {
	c := uint(2 * max(n, 0))
	if c < MinRebuildCapacity {
		return MinRebuildCapacity
	}
	return c
}

// Decode restores a filter written by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) == 0 {
		return nil, errors.New("empty filter data")
	}
	var f bbloom.BloomFilter
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode bloom filter: %w", err)
	}
	return &Filter{f: &f}, nil
}

// Encode serializes the filter.
func (f *Filter) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode bloom filter: %w", err)
	}
	return buf.Bytes(), nil
}

// TestString reports whether item is probably in the set.
func (f *Filter) TestString(item string) bool {
	return f.f.TestString(item)
}

// AddString inserts item.
func (f *Filter) AddString(item string) {
	f.f.AddString(item)
}

// Bits returns the size of the underlying bit array.
func (f *Filter) Bits() uint {
	return f.f.Cap()
}

// HashCount returns the number of hash functions.
func (f *Filter) HashCount() uint {
	return f.f.K()
}

// Stats describes a persisted filter.
type Stats struct {
	Name        string    `json:"name"`
	Capacity    int64     `json:"capacity"`
	ItemCount   int64     `json:"item_count"`
	ErrorRate   float64   `json:"false_positive_rate"`
	SizeBytes   int64     `json:"size_bytes"`
	LastUpdated time.Time `json:"last_updated"`
}
