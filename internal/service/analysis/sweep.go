package analysis

import (
	"context"
	"log"
	"time"
)

const (
	DefaultTombstoneRetention = 30 * 24 * time.Hour
	DefaultTombstoneSweep     = time.Hour
)

// StartTombstoneSweeper prunes tombstones older than retention every
// interval until ctx is done.
func (s *Service) StartTombstoneSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultTombstoneSweep
	}
	if retention <= 0 {
		retention = DefaultTombstoneRetention
	}
	go s.sweepLoop(ctx, interval, retention)
}

func (s *Service) sweepLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepTombstones(ctx, retention)
		}
	}
}

func (s *Service) sweepTombstones(ctx context.Context, retention time.Duration) {
	n, err := s.store.PruneTombstones(ctx, s.store.now().Add(-retention))
	if err != nil {
		log.Printf("[analysis] prune tombstones: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[analysis] pruned %d tombstones older than %s", n, retention)
	}
}
