package application

import (
	"fmt"
	"math"
	"sync"

	"github.com/jobrunner/geosplit/internal/domain"
)

// RangeTracker guards a reader's current range against concurrent splits.
// Claims are monotonically non-decreasing and the stop only shrinks.
type RangeTracker struct {
	mu          sync.Mutex
	start       int64
	stop        int64
	lastClaimed int64
	claimed     bool
}

// NewRangeTracker creates a tracker for r.
func NewRangeTracker(r domain.Range) *RangeTracker {
	return &RangeTracker{
		start:       r.Start,
		stop:        r.End,
		lastClaimed: r.Start,
	}
}

// TryClaim claims pos. It fails once pos reaches the (possibly shrunk)
// stop or when pos would move backwards.
func (t *RangeTracker) TryClaim(pos int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pos < t.lastClaimed || pos >= t.stop {
		return false
	}
	t.lastClaimed = pos
	t.claimed = true
	return true
}

// TrySplit shrinks the range so that roughly fraction of the remainder
// after the last claimed position stays with the tracker, and returns the
// residual range. The split point lies strictly between the last claimed
// position and the stop.
func (t *RangeTracker) TrySplit(fraction float64) (domain.Range, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop == domain.Unbounded || math.IsNaN(fraction) {
		return domain.Range{}, false
	}

	base := t.lastClaimed
	if t.stop-base < 2 {
		return domain.Range{}, false
	}

	fraction = math.Max(0, math.Min(1, fraction))
	split := base + int64(math.Ceil(fraction*float64(t.stop-base)))
	if split <= base {
		split = base + 1
	}
	if split >= t.stop {
		return domain.Range{}, false
	}

	residual := domain.NewRange(split, t.stop)
	t.stop = split
	return residual, true
}

// DiscoverBound sets the stop of an unbounded range once it becomes known.
func (t *RangeTracker) DiscoverBound(stop int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != domain.Unbounded {
		return fmt.Errorf("bound already known (%d): %w", t.stop, domain.ErrInvalidRange)
	}
	if stop < t.start || (t.claimed && stop <= t.lastClaimed) {
		return fmt.Errorf("bound %d before last claimed %d: %w", stop, t.lastClaimed, domain.ErrInvalidRange)
	}
	t.stop = stop
	return nil
}

// MarkDone ends the range right after the last claimed position, used
// when the underlying data runs out before the stop.
func (t *RangeTracker) MarkDone() {
	t.mu.Lock()
	defer t.mu.Unlock()

	end := t.start
	if t.claimed {
		end = t.lastClaimed + 1
	}
	if end < t.stop {
		t.stop = end
	}
}

// FractionConsumed returns the consumed fraction of the current range.
func (t *RangeTracker) FractionConsumed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.claimed || t.stop == domain.Unbounded || t.stop <= t.start {
		return 0
	}
	f := float64(t.lastClaimed-t.start) / float64(t.stop-t.start)
	return math.Max(0, math.Min(1, f))
}

// Range returns the current range.
func (t *RangeTracker) Range() domain.Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.NewRange(t.start, t.stop)
}

// LastClaimed returns the last claimed position and whether any claim
// happened.
func (t *RangeTracker) LastClaimed() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastClaimed, t.claimed
}

// IsBounded returns true if the stop is known.
func (t *RangeTracker) IsBounded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != domain.Unbounded
}
