package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// recordProducer turns one claimed position into records. Each source kind
// provides one; rangeReader owns claiming, buffering and bookkeeping.
type recordProducer interface {
	// open acquires handles. Errors other than CRS resolution abort the range.
	open(ctx context.Context, env *readEnv) error

	// produce returns the records of pos. An error aborts the range.
	produce(ctx context.Context, pos int64) ([]domain.GeoRecord, error)

	// close releases handles.
	close() error
}

// readEnv is what a producer sees of its reader.
type readEnv struct {
	source  string
	tracker *RangeTracker
	metrics output.MetricsCollector
	logger  *slog.Logger

	mu    sync.Mutex
	stats domain.ReadStats
}

// defect drops a record or unit without failing the range.
func (e *readEnv) defect(kind string, pos int64, err error) {
	e.logger.Debug("record dropped", "source", e.source, "position", pos, "kind", kind, "error", err)
	e.metrics.IncDefect(e.source, kind)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stats.Defects == nil {
		e.stats.Defects = make(map[string]int64)
	}
	e.stats.Defects[kind]++
}

func (e *readEnv) emitted() {
	e.mu.Lock()
	e.stats.Records++
	e.mu.Unlock()
}

func (e *readEnv) snapshot() domain.ReadStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := domain.ReadStats{Records: e.stats.Records}
	if len(e.stats.Defects) > 0 {
		out.Defects = make(map[string]int64, len(e.stats.Defects))
		for k, v := range e.stats.Defects {
			out.Defects[k] = v
		}
	}
	return out
}

// rangeReader implements input.Reader over a recordProducer.
type rangeReader struct {
	env      *readEnv
	producer recordProducer
	initial  domain.Range

	next    int64
	buf     []domain.GeoRecord
	current domain.GeoRecord

	started   bool
	closed    bool
	openedAt  time.Time
	closeOnce sync.Once
	closeErr  error
}

var _ input.Reader = (*rangeReader)(nil)

func newRangeReader(
	source string,
	r domain.Range,
	producer recordProducer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *rangeReader {
	return &rangeReader{
		env: &readEnv{
			source:  source,
			tracker: NewRangeTracker(r),
			metrics: metrics,
			logger:  logger,
		},
		producer: producer,
		initial:  r,
		next:     r.Start,
	}
}

// Start implements input.Reader.
func (r *rangeReader) Start(ctx context.Context) (bool, error) {
	if r.started {
		return false, fmt.Errorf("reader for %s already started: %w", r.initial, domain.ErrInvalidInput)
	}
	r.started = true
	r.openedAt = time.Now()

	if err := r.producer.open(ctx, r.env); err != nil {
		if errors.Is(err, domain.ErrCRSUndetermined) || errors.Is(err, domain.ErrConfiguration) {
			return false, err
		}
		return false, r.fail(err)
	}
	return r.Advance(ctx)
}

// Advance implements input.Reader.
func (r *rangeReader) Advance(ctx context.Context) (bool, error) {
	if !r.started || r.closed {
		return false, fmt.Errorf("reader for %s not started or closed: %w", r.initial, domain.ErrInvalidInput)
	}

	for {
		if len(r.buf) > 0 {
			r.current = r.buf[0]
			r.buf[0] = domain.GeoRecord{}
			r.buf = r.buf[1:]
			r.env.emitted()
			return true, nil
		}

		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !r.env.tracker.TryClaim(r.next) {
			return false, nil
		}

		records, err := r.producer.produce(ctx, r.next)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			return false, r.fail(err)
		}
		r.next++
		r.buf = records
	}
}

func (r *rangeReader) fail(err error) error {
	r.env.metrics.IncRangeFailure(r.env.source)
	r.env.logger.Warn("range failed", "source", r.env.source, "range", r.env.tracker.Range().String(), "error", err)
	return &domain.RangeFailure{Source: r.env.source, Range: r.initial, Err: err}
}

// Current implements input.Reader.
func (r *rangeReader) Current() domain.GeoRecord {
	return r.current
}

// Progress implements input.Reader.
func (r *rangeReader) Progress() float64 {
	return r.env.tracker.FractionConsumed()
}

// TrySplit implements input.Reader.
func (r *rangeReader) TrySplit(fraction float64) (domain.Range, bool) {
	residual, ok := r.env.tracker.TrySplit(fraction)
	if ok {
		r.env.metrics.IncSplit(r.env.source)
		r.env.logger.Debug("range split", "source", r.env.source, "primary", r.env.tracker.Range().String(), "residual", residual.String())
	}
	return residual, ok
}

// Range implements input.Reader.
func (r *rangeReader) Range() domain.Range {
	return r.env.tracker.Range()
}

// Stats implements input.Reader.
func (r *rangeReader) Stats() domain.ReadStats {
	return r.env.snapshot()
}

// Close implements input.Reader.
func (r *rangeReader) Close() error {
	r.closeOnce.Do(func() {
		r.closed = true
		r.buf = nil
		r.closeErr = r.producer.close()

		stats := r.env.snapshot()
		r.env.metrics.AddRecords(r.env.source, int(stats.Records))
		if r.started {
			r.env.metrics.ObserveRangeDuration(r.env.source, time.Since(r.openedAt))
		}
		r.env.logger.Debug("reader closed",
			"source", r.env.source,
			"range", r.env.tracker.Range().String(),
			"records", stats.Records,
			"defects", stats.DefectCount(),
		)
	})
	return r.closeErr
}
