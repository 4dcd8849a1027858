package domain

import (
	"context"
	"errors"
	"time"
)

// Nomes dos campos do registro de bloqueio no store.
// Os valores são sempre strings decimais.
const (
	FieldAttempts      = "attempts"
	FieldLastAttemptAt = "lastAttemptAt"
)

// LockKeyPrefix é o prefixo da chave de bloqueio: "loginLock:" + identity.
const LockKeyPrefix = "loginLock:"

// LockRecord é o estado de bloqueio de uma identidade, já decodificado.
type LockRecord struct {
	Identity string
	// Attempts == 0 equivale a "sem registro".
	Attempts uint64
	// LastAttemptAt em milissegundos desde epoch. 0 quando ausente.
	LastAttemptAt int64
}

// LockStateStore é o contrato mínimo sobre o KV compartilhado entre instâncias.
//
// ReadFields não falha por chave ausente: retorna mapa vazio.
// WriteFields faz merge dos campos, criando o registro se preciso.
// SetExpiry (re)arma o TTL do registro inteiro, substituindo o anterior.
//
// Não há garantia transacional entre WriteFields e SetExpiry.
type LockStateStore interface {
	ReadFields(ctx context.Context, key string) (map[string]string, error)
	WriteFields(ctx context.Context, key string, fields map[string]string) error
	SetExpiry(ctx context.Context, key string, seconds int) error
}

// FieldIncrementer é uma capacidade opcional do store: incremento atômico de
// um campo numérico, retornando o novo valor (ex.: HINCRBY no Redis).
type FieldIncrementer interface {
	IncrementField(ctx context.Context, key, field string, delta int64) (int64, error)
}

// ExpiryReader é uma capacidade opcional do store: TTL restante do registro.
// Retorna <= 0 quando a chave não existe ou não tem TTL.
type ExpiryReader interface {
	TimeToLive(ctx context.Context, key string) (time.Duration, error)
}

// LockStatus é a visão do guard sobre uma identidade em um instante.
type LockStatus struct {
	Record    LockRecord
	Locked    bool
	Remaining int
	// RetryAfter só é preenchido quando Locked e o store expõe TTL.
	RetryAfter time.Duration
}

// ErrStoreUnavailable é o único tipo de erro que o guard devolve.
var ErrStoreUnavailable = errors.New("lock state store unavailable")

// ErrAtomicUnsupported indica que o incremento atômico foi pedido mas o store
// não implementa FieldIncrementer.
var ErrAtomicUnsupported = errors.New("lock state store does not support atomic increment")

// ErrMalformedField é devolvido por FieldIncrementer quando o valor atual do
// campo não é um inteiro. Não é uma falha de disponibilidade.
var ErrMalformedField = errors.New("lock state field is not an integer")

// StoreUnavailableError embrulha a causa original de uma falha no store.
type StoreUnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return "lockout: " + e.Op + " " + e.Key + ": " + ErrStoreUnavailable.Error() + ": " + e.Err.Error()
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }
