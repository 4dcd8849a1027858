package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"login-lockout-gateway/middleware/lockout"
	"login-lockout-gateway/middleware/lockout/application"
	"login-lockout-gateway/middleware/lockout/domain"
	"login-lockout-gateway/middleware/lockout/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config error", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Error("invalid UPSTREAM_URL", slog.Any("error", err))
		os.Exit(1)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.redisAddr,
		Password:     cfg.redisPassword,
		DB:           cfg.redisDB,
		DialTimeout:  cfg.redisTimeout,
		ReadTimeout:  cfg.redisTimeout,
		WriteTimeout: cfg.redisTimeout,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err = rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		// com fail-open o gateway sobe mesmo sem Redis
		if !cfg.lockoutFailOpen {
			logger.Error("redis ping error", slog.String("addr", cfg.redisAddr), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("redis ping error, starting in fail-open mode", slog.Any("error", err))
	}

	guard, err := application.NewGuard(
		infra.NewRedisLockStore(rdb, infra.WithKeyPrefix(cfg.lockoutKeyPrefix)),
		application.Policy{
			MaxLoginAttempts:   cfg.lockoutMaxAttempts,
			LoginLockInSeconds: cfg.lockoutTTLSeconds,
			AtomicIncrement:    cfg.lockoutAtomic,
		},
		application.WithLogger(logger),
		application.WithLastAttemptField(cfg.lockoutLastAttemptName),
	)
	if err != nil {
		logger.Error("lockout guard error", slog.Any("error", err))
		os.Exit(1)
	}

	var stats domain.StatsStore
	if cfg.statsEnabled {
		stats = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackIdentities(cfg.statsTrackIdentities),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	login := lockout.Middleware(lockout.Options{
		Guard:             guard,
		IdentityHeader:    cfg.lockoutIdentityHeader,
		IdentityField:     cfg.lockoutIdentityField,
		FailureStatuses:   cfg.lockoutFailureStatuses,
		RetryAfter:        time.Duration(cfg.lockoutTTLSeconds) * time.Second,
		FailOpen:          cfg.lockoutFailOpen,
		Stats:             stats,
		Logger:            logger,
		AddLockoutHeaders: cfg.lockoutAddHeaders,
	})(proxy)

	login = lockout.AttemptMiddleware(lockout.AttemptOptions{
		PerIdentity:    cfg.inFlightPerIdentity,
		WaitTimeout:    cfg.inFlightWait,
		IdentityHeader: cfg.lockoutIdentityHeader,
		IdentityField:  cfg.lockoutIdentityField,
		RetryAfter:     cfg.retryAfter,
		Stats:          stats,
		Logger:         logger,
	})(login)

	if cfg.rateEnabled {
		throttle := infra.NewThrottleStore(cfg.rateRPS, cfg.rateBurst)
		throttle.StartJanitor(ctx)
		login = lockout.ThrottleMiddleware(lockout.ThrottleOptions{
			Store:               throttle,
			KeyHeader:           cfg.rateKeyHdr,
			TrustXForwardedFor:  cfg.trustXFF,
			RetryAfter:          cfg.retryAfter,
			AddRateLimitHeaders: cfg.addHeaders,
		})(login)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.lockoutLoginPath, login)
	mux.Handle("/", proxy)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		slog.String("addr", cfg.listenAddr),
		slog.String("upstream", target.String()),
		slog.String("login_path", cfg.lockoutLoginPath))
	logger.Info("lockout",
		slog.Int("max_attempts", cfg.lockoutMaxAttempts),
		slog.Int("ttl_seconds", cfg.lockoutTTLSeconds),
		slog.Bool("atomic", cfg.lockoutAtomic),
		slog.Bool("fail_open", cfg.lockoutFailOpen),
		slog.String("identity_header", cfg.lockoutIdentityHeader),
		slog.String("identity_field", cfg.lockoutIdentityField))
	logger.Info("rate",
		slog.Bool("enabled", cfg.rateEnabled),
		slog.Float64("rps", cfg.rateRPS),
		slog.Int("burst", cfg.rateBurst),
		slog.Bool("trust_xff", cfg.trustXFF))
	logger.Info("in-flight",
		slog.Int("per_identity", cfg.inFlightPerIdentity),
		slog.Duration("wait", cfg.inFlightWait))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
