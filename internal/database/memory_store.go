package database

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/irfndi/distance-pairs/internal/models"
)

// MemoryRunStore keeps the most recent runs in process memory. It stands in
// for BacktestRepository when no database is configured.
type MemoryRunStore struct {
	mu       sync.RWMutex
	capacity int
	runs     map[uuid.UUID]*models.BacktestRun
	order    []uuid.UUID
}

// NewMemoryRunStore keeps at most capacity runs, evicting the oldest first. capacity <= 0 means 100.
func NewMemoryRunStore(capacity int) *MemoryRunStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryRunStore{
		capacity: capacity,
		runs:     make(map[uuid.UUID]*models.BacktestRun),
	}
}

func (s *MemoryRunStore) SaveRun(_ context.Context, run *models.BacktestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
	for len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryRunStore) GetRun(_ context.Context, id uuid.UUID) (*models.BacktestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first, without frames or results.
func (s *MemoryRunStore) ListRuns(_ context.Context, limit int) ([]*models.BacktestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	runs := make([]*models.BacktestRun, 0, len(s.runs))
	for _, run := range s.runs {
		header := *run
		header.Results = nil
		runs = append(runs, &header)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetEquity rebuilds the curve from the frame kept with the run.
func (s *MemoryRunStore) GetEquity(ctx context.Context, id uuid.UUID, rank int) ([]EquityPoint, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, res := range run.Results {
		if res.Pair.Rank != rank || res.Frame == nil || !res.Frame.HasReturns() {
			continue
		}
		f := res.Frame
		points := make([]EquityPoint, f.Len())
		for i := range points {
			points[i] = EquityPoint{
				Timestamp: f.Timestamps[i],
				Spread:    f.Spread[i],
				Signal:    f.Signal[i],
				Returns:   f.Returns[i],
				Equity:    f.Equity[i],
			}
		}
		return points, nil
	}
	return nil, ErrRunNotFound
}
