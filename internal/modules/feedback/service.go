// README: Feedback service validates synchronously and persists on background workers.
package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vectra/internal/config"
	"vectra/internal/metrics"
)

const saveTimeout = 5 * time.Second

type Saver interface {
	Save(ctx context.Context, f Feedback) error
}

type Service struct {
	store   Saver
	workers int
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Feedback
	wg     sync.WaitGroup
}

func NewService(store Saver, cfg config.FeedbackConfig, logger *slog.Logger) *Service {
	workers, size := cfg.Workers, cfg.QueueSize
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &Service{
		store:   store,
		workers: workers,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan Feedback, size),
	}
}

// Start launches the workers. Saves outlive ctx cancellation so Close can
// drain whatever is still queued.
func (s *Service) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for f := range s.queue {
				s.save(base, f)
			}
		}()
	}
}

func (s *Service) save(ctx context.Context, f Feedback) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := s.store.Save(ctx, f); err != nil {
		metrics.FeedbackOutcomes.WithLabelValues("failed").Inc()
		s.logger.Error("feedback save failed", "address_id", f.AddressID, "driver_id", f.DriverID, "error", err)
		return
	}
	metrics.FeedbackOutcomes.WithLabelValues("saved").Inc()
}

// Submit validates f and queues it. A full queue drops the feedback; the
// caller is not told.
func (s *Service) Submit(f Feedback) error {
	if err := f.Validate(); err != nil {
		metrics.FeedbackOutcomes.WithLabelValues("invalid").Inc()
		return err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- f:
		metrics.FeedbackOutcomes.WithLabelValues("queued").Inc()
	default:
		metrics.FeedbackOutcomes.WithLabelValues("dropped").Inc()
		s.logger.Warn("feedback queue full, dropping", "address_id", f.AddressID, "driver_id", f.DriverID)
	}
	return nil
}

// Close stops accepting feedback and waits for queued items to be saved.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}
