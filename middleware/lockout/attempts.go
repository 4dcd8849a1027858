package lockout

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"login-lockout-gateway/middleware/lockout/application"
	"login-lockout-gateway/middleware/lockout/domain"
	"login-lockout-gateway/middleware/lockout/infra"
)

// AttemptOptions configura o limite de tentativas simultâneas por identidade.
type AttemptOptions struct {
	// Slots tem prioridade sobre PerIdentity.
	Slots       domain.AttemptSlots
	PerIdentity int
	WaitTimeout time.Duration

	IdentityFn     IdentityFunc
	IdentityHeader string
	IdentityField  string

	RejectStatus int
	RetryAfter   time.Duration

	Stats  domain.StatsStore
	Logger *slog.Logger
}

// AttemptMiddleware recusa uma tentativa de login enquanto a mesma identidade
// já tem PerIdentity tentativas em andamento. Deve ficar antes do Middleware
// de lockout, para que cada tentativa veja o contador já atualizado pela
// anterior.
func AttemptMiddleware(opts AttemptOptions) func(next http.Handler) http.Handler {
	if opts.Slots == nil {
		if opts.PerIdentity <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		opts.Slots = infra.NewIdentitySlots(opts.PerIdentity)
	}
	opts.IdentityFn = identityFunc(opts.IdentityFn, opts.IdentityHeader, opts.IdentityField)
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	gate := application.AttemptGate{Slots: opts.Slots, WaitTimeout: opts.WaitTimeout}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := opts.IdentityFn(r)
			if identity == "" {
				next.ServeHTTP(w, r)
				return
			}

			release, ok := gate.Enter(r.Context(), identity)
			if !ok {
				opts.Logger.InfoContext(r.Context(), "login rejected: attempt already in flight",
					slog.String("identity", identity),
					slog.String("request_id", r.Header.Get("X-Request-Id")))
				if opts.Stats != nil {
					_ = opts.Stats.Record(r.Context(), domain.StatsEvent{Identity: identity, Outcome: domain.OutcomeBusy, At: time.Now()})
				}
				w.Header().Set("Retry-After", retryAfterSeconds(opts.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
