package contextstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically removes expired items from a Store. It is the only
// background activity the core runs; everything else happens on caller
// goroutines.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *zap.Logger

	// onSweep, when set, observes each completed sweep. Used to feed
	// metrics without coupling the store to a collector.
	onSweep func(removed int, duration time.Duration)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepObserver registers a callback invoked after every sweep.
func WithSweepObserver(fn func(removed int, duration time.Duration)) SweeperOption {
	return func(s *Sweeper) { s.onSweep = fn }
}

// NewSweeper creates a sweeper over the given store. A non-positive
// interval falls back to one minute.
func NewSweeper(store Store, interval time.Duration, logger *zap.Logger, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With(zap.String("component", "context_sweeper")),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately; the loop stops
// when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("context sweeper started", zap.Duration("interval", s.interval))
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs a single sweep. Failures are logged and the loop
// continues; a broken item never aborts the whole sweep.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	start := time.Now()
	removed, err := s.store.Sweep(ctx, start)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Warn("context sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("context sweep completed",
			zap.Int("removed", removed),
			zap.Duration("elapsed", elapsed),
		)
	}
	if s.onSweep != nil {
		s.onSweep(removed, elapsed)
	}
}
