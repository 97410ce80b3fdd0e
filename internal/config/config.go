package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Accounts   AccountsConfig
	Targets    []string
	Webhook    WebhookConfig
	Poll       PollConfig
	Fetch      FetchConfig
	Prober     ProberConfig
	Checkpoint CheckpointConfig
	Platform   PlatformConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Enabled         bool
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// AccountsConfig locates the credential store and sets pool policy.
type AccountsConfig struct {
	Path                  string
	RotationStrategy      string
	MaxFailuresPerAccount int
}

// WebhookConfig configures the outbound notifier.
type WebhookConfig struct {
	URL           string
	Timeout       time.Duration
	Secret        string
	RatePerSecond float64
	Source        string
}

// PollConfig controls the round loop.
type PollConfig struct {
	Interval    time.Duration
	SkipInitial bool
}

// FetchConfig controls the fetch orchestrator.
type FetchConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Timeout       time.Duration
	Count         int
}

// ProberConfig controls the proxy health prober.
type ProberConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	URL      string
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend   string
	StateFile string

	DatabaseURL            string
	InstanceConnectionName string
	DBUser                 string
	DBPassword             string
	DBName                 string

	RedisURL string
	RedisKey string
}

// PlatformConfig overrides the platform endpoints.
type PlatformConfig struct {
	BaseURL     string
	GuestURL    string
	BearerToken string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultAccountsPath     = "accounts.json"
	defaultRotationStrategy = "round_robin"
	defaultMaxFailures      = 3

	defaultWebhookTimeout = 10 * time.Second
	defaultWebhookSource  = "feedwatch"

	defaultPollInterval = 20 * time.Second

	defaultMaxRetries    = 3
	defaultRetryDelay    = 2 * time.Second
	defaultMaxRetryDelay = 30 * time.Second
	defaultFetchTimeout  = 20 * time.Second
	defaultFetchCount    = 20

	defaultProbeInterval = 300 * time.Second
	defaultProbeTimeout  = 10 * time.Second
	defaultProbeURL      = "https://httpbin.org/ip"

	defaultCheckpointBackend = "file"
	defaultStateFile         = "tracker_state.json"
	defaultRedisURL          = "redis://localhost:6379/0"
	defaultRedisKey          = "feedwatch:checkpoints"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided. Malformed values are errors. Required settings
// are checked separately by Validate so commands that do not need them can
// still load.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Accounts: AccountsConfig{
			Path:                  getEnv("ACCOUNTS_CONFIG", defaultAccountsPath),
			RotationStrategy:      getEnv("ACCOUNT_ROTATION_STRATEGY", defaultRotationStrategy),
			MaxFailuresPerAccount: defaultMaxFailures,
		},
		Targets: parseTargets(os.Getenv("TARGET_USERS")),
		Webhook: WebhookConfig{
			URL:     os.Getenv("WEBHOOK_URL"),
			Timeout: defaultWebhookTimeout,
			Secret:  os.Getenv("WEBHOOK_SECRET"),
			Source:  getEnv("WEBHOOK_SOURCE", defaultWebhookSource),
		},
		Poll: PollConfig{
			Interval:    defaultPollInterval,
			SkipInitial: true,
		},
		Fetch: FetchConfig{
			MaxRetries:    defaultMaxRetries,
			RetryDelay:    defaultRetryDelay,
			MaxRetryDelay: defaultMaxRetryDelay,
			Timeout:       defaultFetchTimeout,
			Count:         defaultFetchCount,
		},
		Prober: ProberConfig{
			Enabled:  true,
			Interval: defaultProbeInterval,
			Timeout:  defaultProbeTimeout,
			URL:      getEnv("PROXY_HEALTH_CHECK_URL", defaultProbeURL),
		},
		Checkpoint: CheckpointConfig{
			Backend:                getEnv("CHECKPOINT_BACKEND", defaultCheckpointBackend),
			StateFile:              getEnv("STATE_FILE", defaultStateFile),
			DatabaseURL:            os.Getenv("DATABASE_URL"),
			InstanceConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),
			DBUser:                 os.Getenv("DB_USER"),
			DBPassword:             os.Getenv("DB_PASSWORD"),
			DBName:                 os.Getenv("DB_NAME"),
			RedisURL:               getEnv("REDIS_URL", defaultRedisURL),
			RedisKey:               getEnv("CHECKPOINT_REDIS_KEY", defaultRedisKey),
		},
		Platform: PlatformConfig{
			BaseURL:     os.Getenv("PLATFORM_BASE_URL"),
			GuestURL:    os.Getenv("PLATFORM_GUEST_URL"),
			BearerToken: os.Getenv("PLATFORM_BEARER_TOKEN"),
		},
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"WEBHOOK_TIMEOUT", &cfg.Webhook.Timeout},
		{"POLL_INTERVAL_SECONDS", &cfg.Poll.Interval},
		{"RETRY_DELAY_SECONDS", &cfg.Fetch.RetryDelay},
		{"MAX_RETRY_DELAY_SECONDS", &cfg.Fetch.MaxRetryDelay},
		{"TWEET_FETCH_TIMEOUT", &cfg.Fetch.Timeout},
		{"PROXY_HEALTH_CHECK_INTERVAL", &cfg.Prober.Interval},
		{"PROXY_HEALTH_CHECK_TIMEOUT", &cfg.Prober.Timeout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := parseSeconds(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_FAILED_REQUESTS_PER_ACCOUNT", &cfg.Accounts.MaxFailuresPerAccount},
		{"MAX_RETRIES", &cfg.Fetch.MaxRetries},
		{"FETCH_COUNT", &cfg.Fetch.Count},
	}
	for _, n := range ints {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := parsePositiveInt(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", n.key, err)
			}
			*n.dst = parsed
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"SERVER_ENABLED", &cfg.Server.Enabled},
		{"BOOTSTRAP_SKIP_INITIAL", &cfg.Poll.SkipInitial},
		{"ENABLE_PROXY_ROTATION", &cfg.Prober.Enabled},
	}
	for _, b := range bools {
		if v := os.Getenv(b.key); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: must be a boolean", b.key)
			}
			*b.dst = parsed
		}
	}

	if v := os.Getenv("WEBHOOK_RATE_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("invalid WEBHOOK_RATE_PER_SECOND: must be a non-negative number")
		}
		cfg.Webhook.RatePerSecond = rps
	}

	switch cfg.Accounts.RotationStrategy {
	case "round_robin", "random", "first":
	default:
		return Config{}, fmt.Errorf("invalid ACCOUNT_ROTATION_STRATEGY: must be one of round_robin, random, first")
	}

	switch cfg.Checkpoint.Backend {
	case "file", "postgres", "redis":
	default:
		return Config{}, fmt.Errorf("invalid CHECKPOINT_BACKEND: must be one of file, postgres, redis")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	// DEBUG wins over LOG_LEVEL.
	if v := os.Getenv("DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DEBUG: must be a boolean")
		}
		if debug {
			cfg.Logging.Level = slog.LevelDebug
		}
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

// Validate checks the settings the poller needs before it can start.
func (c Config) Validate() error {
	var errs []error
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("TARGET_USERS is required"))
	}
	if c.Webhook.URL == "" {
		errs = append(errs, errors.New("WEBHOOK_URL is required"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_SECONDS must be positive"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("TWEET_FETCH_TIMEOUT must be positive"))
	}
	if c.Prober.Enabled && c.Prober.Interval <= 0 {
		errs = append(errs, errors.New("PROXY_HEALTH_CHECK_INTERVAL must be positive"))
	}
	if c.Checkpoint.Backend == "postgres" && c.Checkpoint.DatabaseURL == "" && c.Checkpoint.InstanceConnectionName == "" {
		errs = append(errs, errors.New("postgres checkpoint backend needs DATABASE_URL or INSTANCE_CONNECTION_NAME"))
	}
	return errors.Join(errs...)
}

// parseTargets splits a comma list of handles, dropping blanks, leading @
// and duplicates.
func parseTargets(raw string) []string {
	var targets []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		handle := strings.TrimPrefix(strings.TrimSpace(part), "@")
		key := strings.ToLower(handle)
		if handle == "" || seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, handle)
	}
	return targets
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
