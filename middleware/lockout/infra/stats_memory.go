package infra

import (
	"context"
	"sync"

	"login-lockout-gateway/middleware/lockout/domain"
)

type Counters struct {
	Allowed  int64
	Locked   int64
	Failures int64
	Busy     int64
}

func (c *Counters) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeAllowed:
		c.Allowed++
	case domain.OutcomeLocked:
		c.Locked++
	case domain.OutcomeFailure:
		c.Failures++
	case domain.OutcomeBusy:
		c.Busy++
	}
}

// MemoryStatsStore é uma implementação simples em memória.
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      Counters
	byIdentity map[string]Counters

	trackIdentities bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackIdentities(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackIdentities = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{byIdentity: make(map[string]Counters)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)
	if s.trackIdentities && ev.Identity != "" {
		c := s.byIdentity[ev.Identity]
		c.add(ev.Outcome)
		s.byIdentity[ev.Identity] = c
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByIdentity() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byIdentity))
	for k, v := range s.byIdentity {
		out[k] = v
	}
	return out
}
