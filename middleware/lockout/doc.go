// Package lockout fornece adapters HTTP (net/http) para bloqueio de login por
// identidade, throttle por cliente e limite de tentativas simultâneas.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (LockStateStore, LockRecord, erros), sem net/http
//   - application: Guard (IsLocked/RecordFailure), throttle e concorrência, sem net/http
//   - infra: Redis, memória, x/time/rate, semáforo por identidade
//   - lockout (este pacote): middlewares HTTP, extração de identidade e tradução para status/headers
//
// Fluxo no gateway, para o endpoint de login:
//
//  1. Extrai a identidade (header ou campo do corpo: form/JSON)
//  2. Se a identidade já tem uma tentativa em andamento, responde 429 (AttemptMiddleware)
//  3. Consulta o Guard; se bloqueada, responde 429 com Retry-After
//  4. Encaminha ao upstream e observa o status da resposta
//  5. Se o upstream recusou as credenciais (401 por padrão), registra a falha
//
// Um login bem-sucedido não zera o contador: o bloqueio só termina quando o
// TTL do registro expira no store.
package lockout
