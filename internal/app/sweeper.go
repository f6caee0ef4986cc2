package app

import (
	"context"
	"log"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Sweeper force-finalizes attempts whose deadline passed while still open. It
// owns no timer; the server (or a test) invokes Tick on whatever cadence it
// wants. Overlapping ticks are safe: the conditional finalize write makes each
// attempt sweepable at most once.
type Sweeper struct {
	store   AttemptStore
	service *AttemptService
	batch   int
	clock   func() time.Time
}

// SweeperOption tweaks sweeper construction.
type SweeperOption func(*Sweeper)

// WithSweeperClock injects a deterministic clock.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.clock = now }
}

func NewSweeper(store AttemptStore, service *AttemptService, batch int, opts ...SweeperOption) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	s := &Sweeper{store: store, service: service, batch: batch, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick finalizes one bounded batch of overdue attempts. Each attempt is
// handled independently: a Conflict means someone else finalized it first and
// counts as done elsewhere; any other failure is logged and the batch moves
// on. Returns how many attempts this tick finalized.
func (s *Sweeper) Tick(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpired(ctx, s.clock(), s.batch)
	if err != nil {
		return 0, domain.DependencyFailure("list expired attempts", err)
	}

	swept := 0
	for _, id := range ids {
		if _, err := s.service.Finalize(ctx, id, "", nil, TriggerExpiry); err != nil {
			if domain.IsKind(err, domain.KindConflict) {
				continue
			}
			log.Printf("sweep: finalize attempt %s: %v", id, err)
			continue
		}
		swept++
	}
	return swept, nil
}
