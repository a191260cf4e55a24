// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/geosplit/internal/domain"
)

// Source is the contract a distributed engine uses to partition a
// geospatial file or feed and to open readers over the partitions.
type Source interface {
	// Name returns a short label for logs and metrics.
	Name() string

	// EstimateSize returns the approximate byte size, or -1 if unknown.
	EstimateSize(ctx context.Context) (int64, error)

	// InitialRanges partitions the whole source into contiguous ranges of
	// roughly desiredBundleSize bytes each.
	InitialRanges(ctx context.Context, desiredBundleSize int64) ([]domain.Range, error)

	// CreateReader opens an independent reader positioned at r.Start.
	CreateReader(ctx context.Context, r domain.Range) (Reader, error)
}

// Reader streams the records of one range.
//
// Start and Advance return false once the range is exhausted or a split
// cut it short. Current is valid only after one of them returned true.
// TrySplit may be called from another goroutine while the reader advances.
type Reader interface {
	// Start opens the underlying handle and moves to the first record.
	Start(ctx context.Context) (bool, error)

	// Advance moves to the next record.
	Advance(ctx context.Context) (bool, error)

	// Current returns the record at the current position.
	Current() domain.GeoRecord

	// Progress returns the consumed fraction of the range in [0, 1].
	Progress() float64

	// TrySplit shrinks this reader's range and returns the residual range
	// that is no longer read by it.
	TrySplit(fraction float64) (domain.Range, bool)

	// Range returns the range as it currently stands.
	Range() domain.Range

	// Stats returns what has been emitted and dropped so far.
	Stats() domain.ReadStats

	// Close releases every handle. Safe to call more than once.
	Close() error
}
