package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/insight-gateway/internal/storage"
)

// DefaultMaxRuns bounds how many runs the store keeps.
const DefaultMaxRuns = 1000

// Option configures the store.
type Option func(*Store)

// WithMaxRuns sets how many runs are kept. The oldest run is evicted once
// the limit is exceeded. Values <= 0 keep the default.
func WithMaxRuns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRuns = n
		}
	}
}

// Store is an in-memory RunJournal holding at most maxRuns records.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*storage.RunRecord
	order   []string // ids in insertion order, oldest first
	maxRuns int
	now     func() time.Time
}

var _ storage.RunJournal = (*Store)(nil)

// New creates a new in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		runs:    make(map[string]*storage.RunRecord),
		maxRuns: DefaultMaxRuns,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SaveRun(ctx context.Context, rec *storage.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storage.Touch(rec, s.now())
	if existing, ok := s.runs[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, rec.ID)
	}

	stored := *rec
	s.runs[rec.ID] = &stored
	s.evict()
	return nil
}

// evict drops the oldest runs until the store is within maxRuns.
func (s *Store) evict() {
	for len(s.order) > s.maxRuns {
		delete(s.runs, s.order[0])
		s.order[0] = ""
		s.order = s.order[1:]
	}
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.RunRecord, error) {
	s.mu.RLock()
	result := make([]*storage.RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		out := *rec
		result = append(result, &out)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit := opts.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Len reports how many runs are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *Store) Close() error {
	return nil
}
