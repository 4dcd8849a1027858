// Package infra contém implementações concretas para os contratos do pacote domain.
//
//   - RedisLockStore: LockStateStore sobre hashes do Redis (HGETALL/HSET/EXPIRE/HINCRBY)
//   - MemoryLockStore: LockStateStore em memória com TTL, para testes e dev
//   - ThrottleStore: token bucket por cliente usando golang.org/x/time/rate
//   - IdentitySlots: semáforo por identidade para tentativas de login simultâneas
//   - RedisStatsStore / MemoryStatsStore: contadores de decisões do lockout
package infra
