// internal/historian/historian.go is an asynchronous historian service that pops committed game
// actions from a queue and persists them in batches.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/cluedo/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields queued actions. Pop returns nil, nil when nothing arrived within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.GameAction, error)
}

// Sink persists a batch of actions in one transaction.
type Sink interface {
	InsertActions(ctx context.Context, actions []models.GameAction) error
}

// Service moves actions from a Source to a Sink, flushing whenever the batch is full or
// the flush delay elapses.
type Service struct {
	source     Source
	sink       Sink
	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration
	logger     *logrus.Logger

	batchMu sync.Mutex
	batch   []models.GameAction
}

func NewService(source Source, sink Sink, batchSize int, flushDelay time.Duration, logger *logrus.Logger) *Service {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	return &Service{
		source:     source,
		sink:       sink,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		popTimeout: time.Second,
		logger:     logger,
		batch:      make([]models.GameAction, 0, batchSize),
	}
}

// Run reads the source until ctx ends, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()
	defer s.Flush(context.WithoutCancel(ctx))

	s.logger.Info("historian started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("historian shutting down")
			return nil

		case <-ticker.C:
			s.Flush(ctx)

		default:
			action, err := s.source.Pop(ctx, s.popTimeout)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.WithError(err).Warn("failed to pop action")
				select {
				case <-ctx.Done():
				case <-time.After(s.popTimeout):
				}
				continue
			}
			if action != nil {
				s.Add(ctx, *action)
			}
		}
	}
}

// Add appends an action to the batch and flushes once the batch is full.
func (s *Service) Add(ctx context.Context, action models.GameAction) {
	s.batchMu.Lock()
	s.batch = append(s.batch, action)
	full := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Pending is the number of actions waiting for the next flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// Flush writes the current batch. A failed batch is kept for the next flush.
func (s *Service) Flush(ctx context.Context) error {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return nil
	}
	batch := make([]models.GameAction, len(s.batch))
	copy(batch, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	if err := s.sink.InsertActions(ctx, batch); err != nil {
		s.logger.WithError(err).WithField("actions", len(batch)).Error("failed to flush actions")
		s.batchMu.Lock()
		s.batch = append(batch, s.batch...)
		s.batchMu.Unlock()
		return err
	}
	s.logger.WithField("actions", len(batch)).Debug("flushed actions")
	return nil
}
