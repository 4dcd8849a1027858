package domain

import (
	"context"
	"time"
)

// Outcome é o resultado de uma passagem pelo middleware de lockout.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeLocked  Outcome = "locked"
	OutcomeFailure Outcome = "failure"
	// OutcomeBusy: a identidade já tinha tentativas em andamento.
	OutcomeBusy Outcome = "busy"
)

// StatsEvent registra uma decisão do lockout.
//
// Cuidado com cardinalidade: Identity só deve ser persistida por chave quando
// explicitamente habilitado.
type StatsEvent struct {
	Identity string
	Outcome  Outcome
	At       time.Time
}

// StatsStore persiste estatísticas. Erros são best-effort (não derrubam request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
