package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type config struct {
	listenAddr  string
	upstreamURL string
	logLevel    slog.Level

	redisAddr     string
	redisPassword string
	redisDB       int
	redisTimeout  time.Duration

	lockoutKeyPrefix       string
	lockoutMaxAttempts     int
	lockoutTTLSeconds      int
	lockoutAtomic          bool
	lockoutIdentityHeader  string
	lockoutIdentityField   string
	lockoutLoginPath       string
	lockoutFailOpen        bool
	lockoutLastAttemptName string
	lockoutFailureStatuses []int
	lockoutAddHeaders      bool

	rateEnabled bool
	rateRPS     float64
	rateBurst   int
	rateKeyHdr  string
	trustXFF    bool
	retryAfter  time.Duration
	addHeaders  bool

	inFlightPerIdentity int
	inFlightWait        time.Duration

	statsEnabled         bool
	statsPrefix          string
	statsTTL             time.Duration
	statsBucket          string
	statsTrackIdentities bool
}

// loadConfig lê o .env (se existir) e depois o ambiente.
func loadConfig() (config, error) {
	_ = godotenv.Load()
	return readConfig()
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logLevel = parseLevel(getenvDefault("LOG_LEVEL", "info"))

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisTimeout = getenvDurationDefault("REDIS_TIMEOUT", 500*time.Millisecond)

	cfg.lockoutKeyPrefix = os.Getenv("LOCKOUT_KEY_PREFIX")
	cfg.lockoutMaxAttempts = getenvIntDefault("LOCKOUT_MAX_ATTEMPTS", 5)
	cfg.lockoutTTLSeconds = getenvIntDefault("LOCKOUT_TTL_SECONDS", 900)
	cfg.lockoutAtomic = getenvBoolDefault("LOCKOUT_ATOMIC", false)
	cfg.lockoutIdentityHeader = os.Getenv("LOCKOUT_IDENTITY_HEADER")
	cfg.lockoutIdentityField = getenvDefault("LOCKOUT_IDENTITY_FIELD", "login")
	cfg.lockoutLoginPath = getenvDefault("LOCKOUT_LOGIN_PATH", "/login")
	cfg.lockoutFailOpen = getenvBoolDefault("LOCKOUT_FAIL_OPEN", false)
	cfg.lockoutLastAttemptName = os.Getenv("LOCKOUT_LAST_ATTEMPT_FIELD")
	cfg.lockoutAddHeaders = getenvBoolDefault("LOCKOUT_ADD_HEADERS", false)
	statuses, err := getenvIntList("LOCKOUT_FAILURE_STATUSES", []int{401})
	if err != nil {
		return config{}, err
	}
	cfg.lockoutFailureStatuses = statuses

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateRPS = getenvFloatDefault("RATE_RPS", 1)
	cfg.rateBurst = getenvIntDefault("RATE_BURST", 10)
	cfg.rateKeyHdr = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.inFlightPerIdentity = getenvIntDefault("LOCKOUT_IN_FLIGHT_PER_IDENTITY", 1)
	cfg.inFlightWait = getenvDurationDefault("LOCKOUT_IN_FLIGHT_WAIT", 0)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "lockout:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackIdentities = getenvBoolDefault("STATS_TRACK_IDENTITIES", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required")
	}
	if cfg.lockoutMaxAttempts <= 0 {
		return config{}, errors.New("LOCKOUT_MAX_ATTEMPTS must be > 0")
	}
	if cfg.lockoutTTLSeconds <= 0 {
		return config{}, errors.New("LOCKOUT_TTL_SECONDS must be > 0")
	}
	if !strings.HasPrefix(cfg.lockoutLoginPath, "/") {
		return config{}, errors.New("LOCKOUT_LOGIN_PATH must start with /")
	}
	if cfg.rateEnabled && cfg.rateRPS <= 0 {
		return config{}, errors.New("RATE_RPS must be > 0")
	}
	if cfg.rateEnabled && cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.inFlightPerIdentity < 0 {
		return config{}, errors.New("LOCKOUT_IN_FLIGHT_PER_IDENTITY must be >= 0")
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvIntList(k string, def []int) ([]int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil || i < 100 || i > 599 {
			return nil, errors.New(k + ": invalid status code " + strconv.Quote(part))
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return def, nil
	}
	return out, nil
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
