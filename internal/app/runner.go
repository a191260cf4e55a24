package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/input"
)

// RecordSink receives the records of a run. Write is called from several
// goroutines.
type RecordSink interface {
	Write(rec domain.GeoRecord) error
}

// RunStats summarizes a run.
type RunStats struct {
	Ranges   int              // Ranges read, residuals of splits included
	Splits   int              // Dynamic splits
	Failures int              // Ranges aborted by a range failure
	Records  int64            // Records emitted
	Defects  map[string]int64 // Dropped records or units by kind
}

// Runner reads every range of a source with a bounded pool of workers.
// With rebalancing on, a worker that finds the queue empty splits the
// least-progressed active reader and reads the residual.
type Runner struct {
	workers    int
	bundleSize int64
	rebalance  bool
	logger     *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(workers int, bundleSize int64, rebalance bool, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{workers: workers, bundleSize: bundleSize, rebalance: rebalance, logger: logger}
}

// Run partitions src and reads all partitions. Range failures are logged
// and counted; any other error stops the run.
func (r *Runner) Run(ctx context.Context, src input.Source, sink RecordSink) (RunStats, error) {
	ranges, err := src.InitialRanges(ctx, r.bundleSize)
	if err != nil {
		return RunStats{}, fmt.Errorf("partitioning %s: %w", src.Name(), err)
	}
	r.logger.Info("source partitioned", "source", src.Name(), "ranges", len(ranges), "workers", r.workers)

	s := newSchedule(ranges)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				rng, ok := s.next(r.rebalance)
				if !ok {
					return nil
				}
				if err := r.read(ctx, src, rng, s, sink); err != nil {
					return err
				}
			}
		})
	}
	err = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, err
}

// read reads one range into sink.
func (r *Runner) read(ctx context.Context, src input.Source, rng domain.Range, s *schedule, sink RecordSink) error {
	defer s.done()

	reader, err := src.CreateReader(ctx, rng)
	if err != nil {
		return fmt.Errorf("creating reader for %s: %w", rng, err)
	}
	defer func() { _ = reader.Close() }()

	ok, err := reader.Start(ctx)
	if ok {
		s.track(reader)
		defer s.untrack(reader)
	}
	for ; ok && err == nil; ok, err = reader.Advance(ctx) {
		if err := sink.Write(reader.Current()); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
	}

	failed := err != nil && domain.IsRangeFailure(err) && ctx.Err() == nil
	s.finish(reader.Stats(), failed)
	if failed {
		r.logger.Warn("range failed", "source", src.Name(), "range", reader.Range(), "error", err)
		return nil
	}
	return err
}

// schedule hands out ranges to workers.
type schedule struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []domain.Range
	active   map[input.Reader]struct{}
	inflight int
	stats    RunStats
}

func newSchedule(ranges []domain.Range) *schedule {
	s := &schedule{
		pending: ranges,
		active:  make(map[input.Reader]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// next returns the next range to read. With rebalancing an empty queue is
// refilled by splitting the least-progressed active reader in half, and
// next waits for readers to become active while ranges are in flight.
func (s *schedule) next(rebalance bool) (domain.Range, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if len(s.pending) > 0 {
			rng := s.pending[0]
			s.pending = s.pending[1:]
			s.inflight++
			s.stats.Ranges++
			return rng, true
		}
		if !rebalance {
			return domain.Range{}, false
		}
		if residual, ok := s.splitSlowest(); ok {
			s.inflight++
			s.stats.Ranges++
			s.stats.Splits++
			return residual, true
		}
		if s.inflight == 0 {
			return domain.Range{}, false
		}
		s.cond.Wait()
	}
}

// splitSlowest splits the active reader with the least progress. Readers
// that refuse are nearly done and are not asked again.
func (s *schedule) splitSlowest() (domain.Range, bool) {
	for len(s.active) > 0 {
		var slowest input.Reader
		least := 2.0
		for reader := range s.active {
			if p := reader.Progress(); p < least {
				slowest, least = reader, p
			}
		}
		if residual, ok := slowest.TrySplit(0.5); ok {
			return residual, true
		}
		delete(s.active, slowest)
	}
	return domain.Range{}, false
}

func (s *schedule) track(reader input.Reader) {
	s.mu.Lock()
	s.active[reader] = struct{}{}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *schedule) untrack(reader input.Reader) {
	s.mu.Lock()
	delete(s.active, reader)
	s.mu.Unlock()
}

func (s *schedule) done() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *schedule) finish(stats domain.ReadStats, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Records += stats.Records
	if failed {
		s.stats.Failures++
	}
	for kind, n := range stats.Defects {
		if s.stats.Defects == nil {
			s.stats.Defects = make(map[string]int64)
		}
		s.stats.Defects[kind] += n
	}
}
