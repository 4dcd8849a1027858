package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"login-lockout-gateway/middleware/lockout/domain"
)

// MemoryLockStore é um LockStateStore em memória com expiração por registro.
//
// Útil para testes e para rodar sem Redis. Não é compartilhado entre
// instâncias, então não serve para produção com mais de uma réplica.
type MemoryLockStore struct {
	mu           sync.Mutex
	records      map[string]*memRecord
	now          func() time.Time
	cleanupEvery time.Duration
}

type memRecord struct {
	fields    map[string]string
	expiresAt time.Time // zero = sem TTL
}

type MemoryLockOption func(*MemoryLockStore)

// WithClock troca o relógio (testes avançam o tempo manualmente).
func WithClock(now func() time.Time) MemoryLockOption {
	return func(s *MemoryLockStore) { s.now = now }
}

func WithLockCleanupEvery(d time.Duration) MemoryLockOption {
	return func(s *MemoryLockStore) { s.cleanupEvery = d }
}

func NewMemoryLockStore(opts ...MemoryLockOption) *MemoryLockStore {
	s := &MemoryLockStore{
		records:      make(map[string]*memRecord),
		now:          time.Now,
		cleanupEvery: 1 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live retorna o registro se ainda não expirou. Chamar com mu travado.
func (s *MemoryLockStore) live(key string, now time.Time) *memRecord {
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	if !rec.expiresAt.IsZero() && !now.Before(rec.expiresAt) {
		delete(s.records, key)
		return nil
	}
	return rec
}

func (s *MemoryLockStore) ReadFields(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]string{}
	if rec := s.live(key, s.now()); rec != nil {
		for k, v := range rec.fields {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryLockStore) WriteFields(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(key, s.now())
	if rec == nil {
		rec = &memRecord{fields: make(map[string]string, len(fields))}
		s.records[key] = rec
	}
	for k, v := range fields {
		rec.fields[k] = v
	}
	return nil
}

// SetExpiry segue o EXPIRE do Redis: chave ausente não é criada.
func (s *MemoryLockStore) SetExpiry(_ context.Context, key string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.live(key, now)
	if rec == nil {
		return nil
	}
	if seconds <= 0 {
		delete(s.records, key)
		return nil
	}
	rec.expiresAt = now.Add(time.Duration(seconds) * time.Second)
	return nil
}

func (s *MemoryLockStore) IncrementField(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.live(key, s.now())
	if rec == nil {
		rec = &memRecord{fields: make(map[string]string, 2)}
		s.records[key] = rec
	}

	var cur int64
	if v, ok := rec.fields[field]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, domain.ErrMalformedField
		}
		cur = n
	}
	cur += delta
	rec.fields[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *MemoryLockStore) TimeToLive(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.live(key, now)
	if rec == nil || rec.expiresAt.IsZero() {
		return 0, nil
	}
	return rec.expiresAt.Sub(now), nil
}

// Len conta registros ainda não expirados.
func (s *MemoryLockStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k := range s.records {
		if s.live(k, now) != nil {
			n++
		}
	}
	return n
}

// Cleanup remove registros expirados.
func (s *MemoryLockStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k := range s.records {
		s.live(k, now)
	}
}

// StartJanitor limpa registros expirados periodicamente. Pare cancelando o ctx.
func (s *MemoryLockStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}
