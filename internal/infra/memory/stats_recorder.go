package memory

import (
	"context"
	"sync"
)

// UserStats is a user's aggregate totals across finalized attempts.
type UserStats struct {
	Points   int
	Attempts int
}

// StatsRecorder accumulates aggregate user stats in memory.
type StatsRecorder struct {
	mu    sync.RWMutex
	stats map[string]UserStats
}

func NewStatsRecorder() *StatsRecorder {
	return &StatsRecorder{stats: make(map[string]UserStats)}
}

func (r *StatsRecorder) RecordFinalize(_ context.Context, userID string, scoreDelta, attemptDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[userID]
	s.Points += scoreDelta
	s.Attempts += attemptDelta
	r.stats[userID] = s
	return nil
}

// Stats returns the current totals for a user.
func (r *StatsRecorder) Stats(userID string) UserStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats[userID]
}
