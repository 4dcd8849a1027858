// Package application contém os casos de uso do lockout de login, do throttle
// por cliente e do limite de tentativas simultâneas por identidade.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Guard.IsLocked(ctx, identity) e Guard.RecordFailure(ctx, identity).
package application
