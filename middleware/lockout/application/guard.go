package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"login-lockout-gateway/middleware/lockout/domain"
)

var ErrInvalidPolicy = errors.New("invalid lockout policy")

// Policy são as constantes de política do lockout, fixas após NewGuard.
type Policy struct {
	MaxLoginAttempts   int
	LoginLockInSeconds int
	// AtomicIncrement troca o read-modify-write por incremento atômico no store.
	// Exige um store que implemente domain.FieldIncrementer.
	AtomicIncrement bool
}

func (p Policy) validate() error {
	if p.MaxLoginAttempts <= 0 {
		return fmt.Errorf("%w: MaxLoginAttempts must be > 0, got %d", ErrInvalidPolicy, p.MaxLoginAttempts)
	}
	if p.LoginLockInSeconds <= 0 {
		return fmt.Errorf("%w: LoginLockInSeconds must be > 0, got %d", ErrInvalidPolicy, p.LoginLockInSeconds)
	}
	return nil
}

// Guard decide se uma identidade está bloqueada e registra falhas de login.
//
// Todo o estado vive no store; o Guard não tem locks internos e pode ser
// compartilhado entre goroutines. Nenhuma retentativa é feita aqui.
type Guard struct {
	store  domain.LockStateStore
	incr   domain.FieldIncrementer
	ttl    domain.ExpiryReader
	policy Policy

	lastAttemptField string
	now              func() time.Time
	logger           *slog.Logger
}

type GuardOption func(*Guard)

// WithClock troca o relógio usado em lastAttemptAt.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithLastAttemptField permite interoperar com registros que usam outro nome
// para o campo de timestamp (ex.: "lastAttempt").
func WithLastAttemptField(name string) GuardOption {
	return func(g *Guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.lastAttemptField = name
		}
	}
}

func NewGuard(store domain.LockStateStore, policy Policy, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("lockout: nil lock state store")
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}

	g := &Guard{
		store:            store,
		policy:           policy,
		lastAttemptField: domain.FieldLastAttemptAt,
		now:              time.Now,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}

	if policy.AtomicIncrement {
		incr, ok := store.(domain.FieldIncrementer)
		if !ok {
			return nil, domain.ErrAtomicUnsupported
		}
		g.incr = incr
	}
	if r, ok := store.(domain.ExpiryReader); ok {
		g.ttl = r
	}
	return g, nil
}

func (g *Guard) Policy() Policy { return g.policy }

// LockKey deriva a chave do store. A identidade é usada sem normalização.
func LockKey(identity string) string { return domain.LockKeyPrefix + identity }

// IsLocked retorna true quando attempts >= MaxLoginAttempts.
// Registro ausente ou attempts inválido conta como desbloqueado.
func (g *Guard) IsLocked(ctx context.Context, identity string) (bool, error) {
	rec, err := g.read(ctx, identity)
	if err != nil {
		return false, err
	}
	return g.locked(rec), nil
}

// Status é como IsLocked, mas devolve o registro e, se o store souber, o TTL
// restante do bloqueio.
func (g *Guard) Status(ctx context.Context, identity string) (domain.LockStatus, error) {
	rec, err := g.read(ctx, identity)
	if err != nil {
		return domain.LockStatus{}, err
	}

	st := domain.LockStatus{Record: rec, Locked: g.locked(rec)}
	if rem := int64(g.policy.MaxLoginAttempts) - int64(rec.Attempts); rem > 0 {
		st.Remaining = int(rem)
	}
	if st.Locked && g.ttl != nil {
		key := LockKey(identity)
		d, err := g.ttl.TimeToLive(ctx, key)
		if err != nil {
			return domain.LockStatus{}, g.unavailable(ctx, "ttl", key, err)
		}
		if d > 0 {
			st.RetryAfter = d
		}
	}
	return st, nil
}

// RecordFailure incrementa o contador de falhas e rearma o TTL.
//
// No modo padrão é um read-modify-write sem CAS: duas chamadas concorrentes
// para a mesma identidade podem ler o mesmo valor e perder um incremento.
// Com Policy.AtomicIncrement o incremento é feito pelo próprio store.
func (g *Guard) RecordFailure(ctx context.Context, identity string) error {
	key := LockKey(identity)
	now := strconv.FormatInt(g.now().UnixMilli(), 10)

	var (
		attempts uint64
		fields   map[string]string
	)
	if g.incr != nil {
		n, err := g.incr.IncrementField(ctx, key, domain.FieldAttempts, 1)
		switch {
		case err != nil && !errors.Is(err, domain.ErrMalformedField):
			return g.unavailable(ctx, "increment", key, err)
		case err != nil || n < 1:
			// valor antigo não numérico ou negativo conta como 0: recomeça em 1
			attempts = 1
			fields = map[string]string{domain.FieldAttempts: "1", g.lastAttemptField: now}
		default:
			attempts = uint64(n)
			fields = map[string]string{g.lastAttemptField: now}
		}
	} else {
		rec, err := g.read(ctx, identity)
		if err != nil {
			return err
		}
		attempts = rec.Attempts + 1
		fields = map[string]string{
			g.lastAttemptField:   now,
			domain.FieldAttempts: strconv.FormatUint(attempts, 10),
		}
	}

	if err := g.store.WriteFields(ctx, key, fields); err != nil {
		return g.unavailable(ctx, "write", key, err)
	}
	if err := g.store.SetExpiry(ctx, key, g.policy.LoginLockInSeconds); err != nil {
		return g.unavailable(ctx, "expire", key, err)
	}

	g.logger.DebugContext(ctx, "login failure recorded",
		slog.String("identity", identity),
		slog.Uint64("attempts", attempts))
	if attempts == uint64(g.policy.MaxLoginAttempts) {
		g.logger.WarnContext(ctx, "identity locked",
			slog.String("identity", identity),
			slog.Uint64("attempts", attempts),
			slog.Int("lock_seconds", g.policy.LoginLockInSeconds))
	}
	return nil
}

func (g *Guard) locked(rec domain.LockRecord) bool {
	return rec.Attempts > 0 && rec.Attempts >= uint64(g.policy.MaxLoginAttempts)
}

func (g *Guard) read(ctx context.Context, identity string) (domain.LockRecord, error) {
	key := LockKey(identity)
	fields, err := g.store.ReadFields(ctx, key)
	if err != nil {
		return domain.LockRecord{}, g.unavailable(ctx, "read", key, err)
	}
	return domain.LockRecord{
		Identity:      identity,
		Attempts:      parseUint(fields[domain.FieldAttempts]),
		LastAttemptAt: parseInt(fields[g.lastAttemptField]),
	}, nil
}

func (g *Guard) unavailable(ctx context.Context, op, key string, err error) error {
	g.logger.ErrorContext(ctx, "lock state store error",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", err))
	return &domain.StoreUnavailableError{Op: op, Key: key, Err: err}
}

// valores ausentes ou inválidos viram 0
func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
