package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper soft-deletes sessions whose last access is older than the
// registry's idle timeout. It is the only writer that removes sessions
// without an explicit caller request.
//
// The sweep runs on a fixed interval until its context is cancelled. It
// holds no lock while working: candidates come from the durable store
// and each one is removed through the registry's own Delete, whose
// idempotence makes overlap with foreground traffic harmless. A failure
// on one candidate is logged and the pass continues.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSweeper creates a sweeper over the registry. A non-positive
// interval defaults to 5m. If logger is nil, slog.Default() is used.
func NewSweeper(registry *Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. It returns immediately; the loop stops
// when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.SweepOnce(ctx); err != nil {
					s.logger.Error("expiry sweep failed", "error", err)
				} else if n > 0 {
					s.logger.Info("expiry sweep completed", "expired", n)
				}
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit, making shutdown
// ordering deterministic.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// SweepOnce runs a single expiry pass and returns how many sessions it
// removed across the durable store and the local cache. Sessions
// accessed within the idle timeout are never touched.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.registry.Timeout())

	ids, err := s.registry.staleSessionIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if _, err := s.registry.Delete(ctx, id); err != nil {
			// Partial-failure tolerant: keep sweeping the rest.
			s.logger.Error("failed to expire session", "session_id", id, "error", err)
			continue
		}
		s.logger.Info("expired session", "session_id", id)
		expired++
	}

	expired += s.registry.pruneLocal(cutoff)
	return expired, nil
}
