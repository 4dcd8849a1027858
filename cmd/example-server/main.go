package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"login-lockout-gateway/middleware/lockout"
	"login-lockout-gateway/middleware/lockout/application"
	"login-lockout-gateway/middleware/lockout/infra"
)

// Exemplo: middleware de lockout embutido direto no webserver (sem proxy),
// com store em memória. Só serve para uma instância.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store := infra.NewMemoryLockStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	guard, err := application.NewGuard(store,
		application.Policy{MaxLoginAttempts: 3, LoginLockInSeconds: 60, AtomicIncrement: true},
		application.WithLogger(logger))
	if err != nil {
		logger.Error("guard error", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		if r.PostFormValue("login") != "demo" || r.PostFormValue("password") != "demo" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("welcome\n"))
	})

	h := http.Handler(mux)
	h = lockout.Middleware(lockout.Options{
		Guard:             guard,
		IdentityField:     "login",
		Logger:            logger,
		AddLockoutHeaders: true,
	})(h)
	h = lockout.AttemptMiddleware(lockout.AttemptOptions{
		PerIdentity:   1,
		WaitTimeout:   500 * time.Millisecond,
		IdentityField: "login",
		Logger:        logger,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
