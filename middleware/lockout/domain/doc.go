// Package domain define contratos e tipos de domínio para o bloqueio de login
// (lockout), o throttle por cliente e o limite de concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// O estado de bloqueio vive inteiro em um store externo (LockStateStore);
// nada aqui guarda estado em memória do processo.
package domain
