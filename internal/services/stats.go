package services

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/mailzero/mailzero/internal/fetch"
	"github.com/mailzero/mailzero/internal/mail"
)

// StatsState is a snapshot of the folder counters
type StatsState struct {
	Counts    []mail.LabelCount
	IsLoading bool
	Err       error
}

// Count returns the counter for a folder, matched case-insensitively
func (s StatsState) Count(label string) (int64, bool) {
	for _, c := range s.Counts {
		if strings.EqualFold(c.Label, label) {
			return c.Count, true
		}
	}
	return 0, false
}

// Stats keeps the aggregate counters of one connection
type Stats struct {
	mu     sync.Mutex
	cache  *fetch.Cache
	remote mail.Service
	logger *log.Logger

	connectionID string
	gen          uint64
	loading      bool
	counts       []mail.LabelCount
	err          error
}

// NewStats creates a stats controller
func NewStats(cache *fetch.Cache, remote mail.Service) *Stats {
	return &Stats{cache: cache, remote: remote}
}

// SetLogger sets the logger for debug output
func (s *Stats) SetLogger(logger *log.Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// State returns the current snapshot
func (s *Stats) State() StatsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsState{
		Counts:    append([]mail.LabelCount(nil), s.counts...),
		IsLoading: s.loading,
		Err:       s.err,
	}
}

// Load reads the counters for identity; an incomplete identity clears them
func (s *Stats) Load(ctx context.Context, identity mail.Identity) error {
	s.mu.Lock()
	s.connectionID = ""
	s.counts, s.err = nil, nil
	if !identity.Complete() {
		s.gen++
		s.loading = false
		s.mu.Unlock()
		return nil
	}
	s.connectionID = identity.ConnectionID
	s.mu.Unlock()
	return s.refresh(ctx, false)
}

// Mutate refetches the counters of the loaded connection
func (s *Stats) Mutate(ctx context.Context) error {
	return s.refresh(ctx, true)
}

func (s *Stats) refresh(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.connectionID == "" {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.loading = true
	connID := s.connectionID
	logger := s.logger
	s.mu.Unlock()

	key := mail.StatsKey{ConnectionID: connID}
	fn := func(ctx context.Context) ([]mail.LabelCount, error) {
		return s.remote.GetAggregateStats(ctx, connID)
	}
	var (
		counts []mail.LabelCount
		err    error
	)
	if force {
		s.cache.Invalidate(key)
		counts, err = fetch.Reload(ctx, s.cache, key, fn)
	} else {
		counts, err = fetch.Load(ctx, s.cache, key, fn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.loading = false
	s.err = err
	if err != nil {
		if logger != nil {
			logger.Printf("stats: load %s failed: %v", connID, err)
		}
		return err
	}
	s.counts = counts
	return nil
}
