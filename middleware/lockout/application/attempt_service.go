package application

import (
	"context"
	"time"

	"login-lockout-gateway/middleware/lockout/domain"
)

// AttemptGate serializa tentativas de login da mesma identidade.
//
// Com WaitTimeout <= 0 não espera: se a identidade já está no limite, nega.
// Com WaitTimeout > 0 espera a vaga por no máximo esse tempo.
type AttemptGate struct {
	Slots       domain.AttemptSlots
	WaitTimeout time.Duration
}

func (g AttemptGate) Enter(ctx context.Context, identity string) (func(), bool) {
	if g.Slots == nil || identity == "" {
		return func() {}, true
	}

	var cancel context.CancelFunc
	if g.WaitTimeout <= 0 {
		ctx, cancel = context.WithCancel(ctx)
		cancel()
	} else {
		ctx, cancel = context.WithTimeout(ctx, g.WaitTimeout)
		defer cancel()
	}
	return g.Slots.Acquire(ctx, identity)
}
