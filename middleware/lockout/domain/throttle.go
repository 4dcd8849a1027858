package domain

// Throttle por cliente (IP / API key) na frente do endpoint de login.
// Complementa o lockout por identidade: limita a taxa bruta de tentativas.

import "time"

type ClientKey string

// Limiter decide se uma ação é permitida agora (token bucket, etc).
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave de cliente.
type LimiterStore interface {
	Get(ClientKey) Limiter
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor de Retry-After quando bloquear. 0 = sem recomendação.
	RetryAfter time.Duration
}
