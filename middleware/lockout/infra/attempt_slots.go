package infra

import (
	"context"
	"sync"
)

// IdentitySlots é um semáforo por identidade, com capacidade perIdentity.
//
// Cada identidade só ocupa memória enquanto tem tentativas em andamento ou
// esperando vaga; a entrada some quando o último release acontece.
type IdentitySlots struct {
	mu          sync.Mutex
	perIdentity int
	slots       map[string]*identitySlot
}

type identitySlot struct {
	sem  chan struct{}
	refs int
}

func NewIdentitySlots(perIdentity int) *IdentitySlots {
	if perIdentity < 1 {
		perIdentity = 1
	}
	return &IdentitySlots{
		perIdentity: perIdentity,
		slots:       make(map[string]*identitySlot),
	}
}

// Acquire tenta primeiro sem bloquear; com o ctx já cancelado falha na hora
// se a identidade estiver sem vaga.
func (p *IdentitySlots) Acquire(ctx context.Context, identity string) (func(), bool) {
	s := p.ref(identity)

	select {
	case s.sem <- struct{}{}:
		return p.releaser(identity, s), true
	default:
	}

	select {
	case s.sem <- struct{}{}:
		return p.releaser(identity, s), true
	case <-ctx.Done():
		p.unref(identity)
		return nil, false
	}
}

// InFlight conta tentativas em andamento para a identidade.
func (p *IdentitySlots) InFlight(identity string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[identity]; ok {
		return len(s.sem)
	}
	return 0
}

// Len conta identidades com tentativas em andamento ou na fila.
func (p *IdentitySlots) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

func (p *IdentitySlots) releaser(identity string, s *identitySlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			p.unref(identity)
		})
	}
}

func (p *IdentitySlots) ref(identity string) *identitySlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[identity]
	if !ok {
		s = &identitySlot{sem: make(chan struct{}, p.perIdentity)}
		p.slots[identity] = s
	}
	s.refs++
	return s
}

func (p *IdentitySlots) unref(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[identity]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(p.slots, identity)
	}
}
