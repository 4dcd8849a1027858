package domain

import "context"

// AttemptSlots limita quantas tentativas de login da mesma identidade podem
// estar em andamento ao mesmo tempo.
//
// Sem esse limite, N tentativas paralelas leem o mesmo contador antes de
// qualquer escrita e passam todas pelo IsLocked.
//
// Acquire devolve ok=false quando não há vaga para a identidade até o ctx
// encerrar. O release retornado pode ser chamado mais de uma vez.
type AttemptSlots interface {
	Acquire(ctx context.Context, identity string) (release func(), ok bool)
}
