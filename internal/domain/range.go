package domain

import (
	"fmt"
	"math"
)

// Unbounded marks a range end that is not yet known.
const Unbounded int64 = math.MaxInt64

// Range is a half-open interval [Start, End) of positions in a source's
// addressable space (block index, feature index or page index).
type Range struct {
	Start int64 `yaml:"start" json:"start"`
	End   int64 `yaml:"end" json:"end"`
}

// NewRange creates a range. Callers guarantee start <= end.
func NewRange(start, end int64) Range {
	return Range{Start: start, End: end}
}

// Validate checks the range invariants.
func (r Range) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("start %d is negative: %w", r.Start, ErrInvalidRange)
	}
	if r.Start > r.End {
		return fmt.Errorf("start %d after end %d: %w", r.Start, r.End, ErrInvalidRange)
	}
	return nil
}

// IsBounded returns true if the end is known.
func (r Range) IsBounded() bool {
	return r.End != Unbounded
}

// IsEmpty returns true if the range holds no positions.
func (r Range) IsEmpty() bool {
	return r.Start >= r.End
}

// Size returns the number of positions, or -1 when unbounded.
func (r Range) Size() int64 {
	if !r.IsBounded() {
		return -1
	}
	return r.End - r.Start
}

// Contains reports whether pos lies inside the range.
func (r Range) Contains(pos int64) bool {
	return pos >= r.Start && pos < r.End
}

// String returns a string representation of the range.
func (r Range) String() string {
	if !r.IsBounded() {
		return fmt.Sprintf("[%d, inf)", r.Start)
	}
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// SplitEvenly partitions [0, total) into n contiguous ranges whose sizes
// differ by at most one, larger ranges first. n is clamped to [1, total].
func SplitEvenly(total int64, n int) []Range {
	if total <= 0 {
		return []Range{NewRange(0, 0)}
	}
	parts := int64(n)
	if parts < 1 {
		parts = 1
	}
	if parts > total {
		parts = total
	}

	base := total / parts
	extra := total % parts
	ranges := make([]Range, 0, parts)
	var start int64
	for i := int64(0); i < parts; i++ {
		size := base
		if i < extra {
			size++
		}
		ranges = append(ranges, NewRange(start, start+size))
		start += size
	}
	return ranges
}

// PartsForBundle returns how many ranges a source of totalBytes should be
// split into so each carries roughly desiredBundleSize bytes.
func PartsForBundle(totalBytes, desiredBundleSize int64) int {
	if desiredBundleSize <= 0 || totalBytes <= 0 {
		return 1
	}
	parts := (totalBytes + desiredBundleSize - 1) / desiredBundleSize
	if parts > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(parts)
}
