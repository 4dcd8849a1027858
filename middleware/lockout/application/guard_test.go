package application

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"login-lockout-gateway/middleware/lockout/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore é um KV em memória com TTL e relógio manual.
type fakeStore struct {
	mu      sync.Mutex
	now     time.Time
	records map[string]map[string]string
	expires map[string]time.Time
	writes  int

	readErr   error
	writeErr  error
	expireErr error
	// onRead roda depois da leitura, fora do lock
	onRead func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:     time.UnixMilli(1_700_000_000_000),
		records: make(map[string]map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (s *fakeStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *fakeStore) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeStore) expireLocked(key string) {
	if exp, ok := s.expires[key]; ok && !s.now.Before(exp) {
		delete(s.records, key)
		delete(s.expires, key)
	}
}

func (s *fakeStore) fields(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	out := make(map[string]string, len(s.records[key]))
	for k, v := range s.records[key] {
		out[k] = v
	}
	return out
}

func (s *fakeStore) ReadFields(_ context.Context, key string) (map[string]string, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := s.fields(key)
	if s.onRead != nil {
		s.onRead()
	}
	return out, nil
}

func (s *fakeStore) WriteFields(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.expireLocked(key)
	rec, ok := s.records[key]
	if !ok {
		rec = make(map[string]string)
		s.records[key] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	s.writes++
	return nil
}

func (s *fakeStore) SetExpiry(_ context.Context, key string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expireErr != nil {
		return s.expireErr
	}
	if _, ok := s.records[key]; ok {
		s.expires[key] = s.now.Add(time.Duration(seconds) * time.Second)
	}
	return nil
}

func (s *fakeStore) TimeToLive(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	exp, ok := s.expires[key]
	if !ok {
		return 0, nil
	}
	return exp.Sub(s.now), nil
}

// atomicFakeStore adiciona HINCRBY ao fakeStore.
type atomicFakeStore struct {
	*fakeStore
}

func (s atomicFakeStore) IncrementField(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.expireLocked(key)
	rec, ok := s.records[key]
	if !ok {
		rec = make(map[string]string)
		s.records[key] = rec
	}
	var cur int64
	if v, ok := rec[field]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, domain.ErrMalformedField
		}
		cur = n
	}
	cur += delta
	rec[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func newTestGuard(t *testing.T, store domain.LockStateStore, clock func() time.Time, policy Policy) *Guard {
	t.Helper()
	g, err := NewGuard(store, policy, WithClock(clock))
	require.NoError(t, err)
	return g
}

func TestGuard_NoRecordIsNotLocked(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 5, LoginLockInSeconds: 900})

	for _, id := range []string{"alice", "bob@example.com", "+5511999999999", ""} {
		locked, err := g.IsLocked(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, locked, "identity %q", id)
	}
}

func TestGuard_LocksExactlyAtMaxAttempts(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 5, LoginLockInSeconds: 900})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		locked, err := g.IsLocked(ctx, "user")
		require.NoError(t, err)
		require.False(t, locked, "locked before failure %d", i)

		require.NoError(t, g.RecordFailure(ctx, "user"))
	}

	locked, err := g.IsLocked(ctx, "user")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestGuard_AliceAndBob(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.RecordFailure(ctx, "alice"))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, g.RecordFailure(ctx, "bob"))
	}

	locked, err := g.IsLocked(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = g.IsLocked(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestGuard_RecordFailureWritesStringFieldsAndArmsTTL(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "alice"))

	rec := store.fields("loginLock:alice")
	assert.Equal(t, "1", rec["attempts"])
	assert.Equal(t, strconv.FormatInt(store.clock().UnixMilli(), 10), rec["lastAttemptAt"])

	ttl, err := store.TimeToLive(ctx, "loginLock:alice")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, ttl)
}

func TestGuard_LockExpiresAfterTTL(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.RecordFailure(ctx, "alice"))
	}

	store.advance(59 * time.Second)
	locked, err := g.IsLocked(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked)

	store.advance(1 * time.Second)
	locked, err = g.IsLocked(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, locked)

	// depois da expiração a contagem recomeça em 1
	require.NoError(t, g.RecordFailure(ctx, "alice"))
	assert.Equal(t, "1", store.fields("loginLock:alice")["attempts"])
}

func TestGuard_EachFailureRearmsTTL(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "alice"))
	store.advance(50 * time.Second)
	require.NoError(t, g.RecordFailure(ctx, "alice"))
	store.advance(50 * time.Second)

	assert.Equal(t, "2", store.fields("loginLock:alice")["attempts"])
}

func TestGuard_IsLockedDoesNotMutate(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 2, LoginLockInSeconds: 60})
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "alice"))
	writes := store.writes
	before := store.fields("loginLock:alice")

	for i := 0; i < 10; i++ {
		locked, err := g.IsLocked(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, locked)
	}

	assert.Equal(t, writes, store.writes)
	assert.Equal(t, before, store.fields("loginLock:alice"))
}

func TestGuard_MalformedAttemptsCountAsZero(t *testing.T) {
	cases := map[string]map[string]string{
		"not a number":    {"attempts": "abc"},
		"negative":        {"attempts": "-4"},
		"empty":           {"attempts": ""},
		"missing":         {"lastAttemptAt": "1700000000000"},
		"float":           {"attempts": "2.5"},
		"decimal counter": {"attempts": "3.0"},
		"timestamp noise": {"attempts": "x", "lastAttemptAt": "yesterday"},
	}

	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore()
			store.records["loginLock:dave"] = fields
			g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 1, LoginLockInSeconds: 60})
			ctx := context.Background()

			locked, err := g.IsLocked(ctx, "dave")
			require.NoError(t, err)
			assert.False(t, locked)

			require.NoError(t, g.RecordFailure(ctx, "dave"))
			assert.Equal(t, "1", store.fields("loginLock:dave")["attempts"])
		})
	}
}

func TestGuard_ConcurrentFailuresLoseAnUpdate(t *testing.T) {
	store := newFakeStore()
	store.records["loginLock:carol"] = map[string]string{"attempts": "2"}
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})

	// as duas leituras acontecem antes de qualquer escrita
	var readers sync.WaitGroup
	readers.Add(2)
	store.onRead = func() {
		readers.Done()
		readers.Wait()
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.RecordFailure(context.Background(), "carol")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, "3", store.fields("loginLock:carol")["attempts"])
}

func TestGuard_AtomicIncrementKeepsBothUpdates(t *testing.T) {
	store := newFakeStore()
	store.records["loginLock:carol"] = map[string]string{"attempts": "2"}
	g := newTestGuard(t, atomicFakeStore{store}, store.clock,
		Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60, AtomicIncrement: true})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.RecordFailure(context.Background(), "carol"))
		}()
	}
	wg.Wait()

	rec := store.fields("loginLock:carol")
	assert.Equal(t, "4", rec["attempts"])
	assert.NotEmpty(t, rec["lastAttemptAt"])

	ttl, err := store.TimeToLive(context.Background(), "loginLock:carol")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, ttl)
}

func TestGuard_AtomicIncrementResetsMalformedCounter(t *testing.T) {
	store := newFakeStore()
	store.records["loginLock:dave"] = map[string]string{"attempts": "oops"}
	g := newTestGuard(t, atomicFakeStore{store}, store.clock,
		Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60, AtomicIncrement: true})

	require.NoError(t, g.RecordFailure(context.Background(), "dave"))
	assert.Equal(t, "1", store.fields("loginLock:dave")["attempts"])
}

func TestGuard_AtomicIncrementRestartsNegativeCounter(t *testing.T) {
	store := newFakeStore()
	store.records["loginLock:dave"] = map[string]string{"attempts": "-5"}
	g := newTestGuard(t, atomicFakeStore{store}, store.clock,
		Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60, AtomicIncrement: true})
	ctx := context.Background()

	require.NoError(t, g.RecordFailure(ctx, "dave"))
	assert.Equal(t, "1", store.fields("loginLock:dave")["attempts"])

	require.NoError(t, g.RecordFailure(ctx, "dave"))
	require.NoError(t, g.RecordFailure(ctx, "dave"))

	locked, err := g.IsLocked(ctx, "dave")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "3", store.fields("loginLock:dave")["attempts"])
}

func TestGuard_StoreUnavailable(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	ctx := context.Background()

	t.Run("IsLocked", func(t *testing.T) {
		store := newFakeStore()
		store.readErr = cause
		g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})

		locked, err := g.IsLocked(ctx, "erin")
		require.Error(t, err)
		assert.False(t, locked)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("RecordFailure read", func(t *testing.T) {
		store := newFakeStore()
		store.readErr = cause
		g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})

		err := g.RecordFailure(ctx, "erin")
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Zero(t, store.writes)
	})

	t.Run("RecordFailure write", func(t *testing.T) {
		store := newFakeStore()
		store.writeErr = cause
		g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})

		err := g.RecordFailure(ctx, "erin")
		var sue *domain.StoreUnavailableError
		require.True(t, errors.As(err, &sue))
		assert.Equal(t, "write", sue.Op)
		assert.Equal(t, "loginLock:erin", sue.Key)
		assert.Empty(t, store.fields("loginLock:erin"))
	})

	t.Run("RecordFailure expire", func(t *testing.T) {
		store := newFakeStore()
		store.expireErr = cause
		g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})

		err := g.RecordFailure(ctx, "erin")
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		// o contador já foi escrito, só o TTL não foi rearmado
		assert.Equal(t, "1", store.fields("loginLock:erin")["attempts"])
	})

	t.Run("atomic increment", func(t *testing.T) {
		store := newFakeStore()
		store.writeErr = cause
		g := newTestGuard(t, atomicFakeStore{store}, store.clock,
			Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60, AtomicIncrement: true})

		assert.ErrorIs(t, g.RecordFailure(ctx, "erin"), domain.ErrStoreUnavailable)
	})
}

type requestIDKey struct{}

// ctxHandler guarda o request id do ctx de cada log emitido.
type ctxHandler struct {
	mu   sync.Mutex
	seen []any
}

func (h *ctxHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ctxHandler) Handle(ctx context.Context, _ slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, ctx.Value(requestIDKey{}))
	return nil
}

func (h *ctxHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ctxHandler) WithGroup(string) slog.Handler { return h }

func TestGuard_StoreErrorLogCarriesContext(t *testing.T) {
	store := newFakeStore()
	store.readErr = errors.New("i/o timeout")
	h := &ctxHandler{}
	g, err := NewGuard(store, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60}, WithLogger(slog.New(h)))
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-42")
	_, err = g.IsLocked(ctx, "erin")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.Equal(t, []any{"req-42"}, h.seen)
}

func TestGuard_Status(t *testing.T) {
	store := newFakeStore()
	g := newTestGuard(t, store, store.clock, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})
	ctx := context.Background()

	st, err := g.Status(ctx, "frank")
	require.NoError(t, err)
	assert.False(t, st.Locked)
	assert.Equal(t, 3, st.Remaining)

	require.NoError(t, g.RecordFailure(ctx, "frank"))
	st, err = g.Status(ctx, "frank")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Record.Attempts)
	assert.Equal(t, store.clock().UnixMilli(), st.Record.LastAttemptAt)
	assert.Equal(t, 2, st.Remaining)
	assert.Zero(t, st.RetryAfter)

	require.NoError(t, g.RecordFailure(ctx, "frank"))
	require.NoError(t, g.RecordFailure(ctx, "frank"))
	store.advance(15 * time.Second)

	st, err = g.Status(ctx, "frank")
	require.NoError(t, err)
	assert.True(t, st.Locked)
	assert.Zero(t, st.Remaining)
	assert.Equal(t, 45*time.Second, st.RetryAfter)
}

func TestGuard_LegacyLastAttemptField(t *testing.T) {
	store := newFakeStore()
	g, err := NewGuard(store, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60},
		WithClock(store.clock), WithLastAttemptField("lastAttempt"))
	require.NoError(t, err)

	require.NoError(t, g.RecordFailure(context.Background(), "gina"))

	rec := store.fields("loginLock:gina")
	assert.Contains(t, rec, "lastAttempt")
	assert.NotContains(t, rec, "lastAttemptAt")
}

func TestNewGuard_Validation(t *testing.T) {
	store := newFakeStore()

	_, err := NewGuard(nil, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60})
	assert.Error(t, err)

	_, err = NewGuard(store, Policy{MaxLoginAttempts: 0, LoginLockInSeconds: 60})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewGuard(store, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: -1})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewGuard(store, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60, AtomicIncrement: true})
	assert.ErrorIs(t, err, domain.ErrAtomicUnsupported)

	g, err := NewGuard(atomicFakeStore{store}, Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60, AtomicIncrement: true})
	require.NoError(t, err)
	assert.True(t, g.Policy().AtomicIncrement)
}

func TestLockKey_UsesIdentityVerbatim(t *testing.T) {
	assert.Equal(t, "loginLock:Alice@Example.com", LockKey("Alice@Example.com"))
	assert.Equal(t, "loginLock: bob ", LockKey(" bob "))
}
