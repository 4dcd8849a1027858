package lockout

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"login-lockout-gateway/middleware/lockout/domain"

	"github.com/google/uuid"
)

// Guard é o que o middleware precisa do application.Guard.
type Guard interface {
	Status(ctx context.Context, identity string) (domain.LockStatus, error)
	RecordFailure(ctx context.Context, identity string) error
}

type Options struct {
	Guard          Guard
	IdentityFn     IdentityFunc
	IdentityHeader string
	IdentityField  string

	// FailureStatuses são os status do upstream que contam como falha de login.
	FailureStatuses []int
	LockedStatus    int
	// RetryAfter é usado quando o store não informa o TTL restante.
	RetryAfter time.Duration
	// FailOpen deixa passar quando o store está indisponível.
	// O padrão é recusar com 503.
	FailOpen bool
	// RecordTimeout limita o RecordFailure feito depois da resposta.
	RecordTimeout time.Duration

	Stats             domain.StatsStore
	Logger            *slog.Logger
	AddLockoutHeaders bool
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Guard == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	opts.IdentityFn = identityFunc(opts.IdentityFn, opts.IdentityHeader, opts.IdentityField)
	if len(opts.FailureStatuses) == 0 {
		opts.FailureStatuses = []int{http.StatusUnauthorized}
	}
	if opts.LockedStatus == 0 {
		opts.LockedStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	record := func(ctx context.Context, identity string, o domain.Outcome) {
		if opts.Stats == nil {
			return
		}
		_ = opts.Stats.Record(ctx, domain.StatsEvent{Identity: identity, Outcome: o, At: time.Now()})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := opts.IdentityFn(r)
			if identity == "" {
				next.ServeHTTP(w, r)
				return
			}

			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.NewString()
				r.Header.Set("X-Request-Id", reqID)
			}
			log := opts.Logger.With(slog.String("request_id", reqID), slog.String("identity", identity))

			st, err := opts.Guard.Status(r.Context(), identity)
			if err != nil {
				log.ErrorContext(r.Context(), "lockout check failed", slog.Any("error", err), slog.Bool("fail_open", opts.FailOpen))
				if !opts.FailOpen {
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if opts.AddLockoutHeaders {
				w.Header().Set("X-Lockout-Remaining", formatInt(st.Remaining))
			}

			if st.Locked {
				retry := st.RetryAfter
				if retry <= 0 {
					retry = opts.RetryAfter
				}
				log.InfoContext(r.Context(), "login rejected: identity locked",
					slog.Uint64("attempts", st.Record.Attempts),
					slog.Duration("retry_after", retry))
				record(r.Context(), identity, domain.OutcomeLocked)

				w.Header().Set("Retry-After", retryAfterSeconds(retry))
				http.Error(w, http.StatusText(opts.LockedStatus), opts.LockedStatus)
				return
			}

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			if !slices.Contains(opts.FailureStatuses, sw.statusCode()) {
				record(r.Context(), identity, domain.OutcomeAllowed)
				return
			}

			// o cliente pode ter desconectado; a falha precisa ser registrada mesmo assim
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), opts.RecordTimeout)
			defer cancel()
			if err := opts.Guard.RecordFailure(ctx, identity); err != nil {
				log.ErrorContext(ctx, "failed to record login failure", slog.Any("error", err))
			}
			record(ctx, identity, domain.OutcomeFailure)
		})
	}
}

// statusWriter captura o status enviado pelo próximo handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	// 1xx não é o status final
	if w.status == 0 && code >= 200 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
