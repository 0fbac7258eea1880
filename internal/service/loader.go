package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when the load queue cannot take another dataset.
	ErrQueueFull = errors.New("load queue is full; try again later")
	// ErrLoaderStopped is returned by Submit after Stop.
	ErrLoaderStopped = errors.New("loader is stopped")
)

// LoaderConfig contains configuration for the loader.
type LoaderConfig struct {
	MaxConcurrent int // Max datasets loading at once (default 1)
	QueueSize     int // Pending loads (default 16)
	Logger        *slog.Logger
}

// Loader runs dataset loads on a fixed pool of workers.
type Loader struct {
	cfg      LoaderConfig
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	queue    chan *Session
	pending  map[string]bool
	running  map[string]int
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  bool
}

// NewLoader creates a loader. Loads run under ctx; Stop cancels them.
func NewLoader(ctx context.Context, cfg LoaderConfig) *Loader {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Loader{
		cfg:     cfg,
		logger:  logger.With("component", "loader"),
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan *Session, cfg.QueueSize),
		pending: make(map[string]bool),
		running: make(map[string]int),
	}
}

// Start starts the worker goroutines.
func (l *Loader) Start() {
	for i := 0; i < l.cfg.MaxConcurrent; i++ {
		l.wg.Add(1)
		go l.worker()
	}
}

// Stop cancels running loads and waits for the workers to exit.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		close(l.queue)
		l.mu.Unlock()

		l.cancel()
		l.wg.Wait()
	})
}

// Submit queues a (re)load of s. The session stops serving immediately and
// reopens when the load finishes. A session already waiting in the queue is
// not queued twice; one that is loading right now is queued again, and the
// new load starts after the running one completes.
func (l *Loader) Submit(s *Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrLoaderStopped
	}
	if l.pending[s.ID()] {
		return nil
	}

	select {
	case l.queue <- s:
		l.pending[s.ID()] = true
		s.requestLoad()
		l.logger.Debug("load queued", "dataset", s.ID())
		return nil
	default:
		return fmt.Errorf("%w (%s)", ErrQueueFull, s.ID())
	}
}

// Running lists the datasets being loaded right now.
func (l *Loader) Running() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.running))
	for id := range l.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for s := range l.queue {
		l.run(s)
	}
}

func (l *Loader) run(s *Session) {
	// Leaving pending lets a reload submitted from here on queue behind us.
	l.mu.Lock()
	delete(l.pending, s.ID())
	l.running[s.ID()]++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.running[s.ID()]--; l.running[s.ID()] <= 0 {
			delete(l.running, s.ID())
		}
		l.mu.Unlock()
	}()

	start := time.Now()
	if err := s.runLoad(l.ctx); err != nil {
		l.logger.Error("load failed", "dataset", s.ID(), "error", err)
		return
	}
	l.logger.Info("load finished", "dataset", s.ID(), "elapsed", time.Since(start).Round(time.Millisecond))
}

// LoadAll loads every session on maxConcurrent workers and waits for all of
// them. The returned error joins the failures.
func LoadAll(ctx context.Context, sessions []*Session, maxConcurrent int, logger *slog.Logger) error {
	l := NewLoader(ctx, LoaderConfig{MaxConcurrent: maxConcurrent, QueueSize: len(sessions), Logger: logger})
	l.Start()
	defer l.Stop()

	var errs []error
	submitted := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if err := l.Submit(s); err != nil {
			errs = append(errs, err)
			continue
		}
		submitted = append(submitted, s)
	}
	for _, s := range submitted {
		if err := s.WaitReady(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}
