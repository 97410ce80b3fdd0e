package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/STRATINT/feedwatch/internal/models"
)

var (
	// ErrNoAccountAvailable is returned by Select when every account is
	// disabled or unhealthy. Retrying cannot help until health changes.
	ErrNoAccountAvailable = errors.New("no healthy account available")

	// ErrNoEnabledAccounts is returned when a pool is built without a single
	// enabled account.
	ErrNoEnabledAccounts = errors.New("no enabled accounts configured")

	ErrUnknownAccount = errors.New("unknown account")
)

const (
	// WindowCapacity bounds the per-account request timestamp history.
	WindowCapacity = 100

	// RateWindow is the span over which requests_per_minute is enforced.
	RateWindow = time.Minute
)

// Strategy selects among the healthy accounts.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
	StrategyFirst      Strategy = "first"
)

// ParseStrategy validates a configured rotation strategy.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(raw); s {
	case StrategyRoundRobin, StrategyRandom, StrategyFirst:
		return s, nil
	default:
		return "", fmt.Errorf("unknown rotation strategy %q: must be round_robin, random or first", raw)
	}
}

// FeedSource is the platform capability bound to one activated account.
type FeedSource interface {
	// Resolve maps handles to tracked entities keyed by lowercased handle.
	// Handles that cannot be resolved are omitted.
	Resolve(ctx context.Context, handles []string) (map[string]models.TrackedEntity, error)

	// FetchTimeline returns the raw timeline payload for a numeric user id.
	FetchTimeline(ctx context.Context, userID int64) ([]byte, error)
}

// Activator builds the live client for an account.
type Activator interface {
	Activate(ctx context.Context, acct *Account) (FeedSource, error)
}

// ActivatorFunc adapts a function to the Activator interface.
type ActivatorFunc func(ctx context.Context, acct *Account) (FeedSource, error)

func (f ActivatorFunc) Activate(ctx context.Context, acct *Account) (FeedSource, error) {
	return f(ctx, acct)
}

// Observer is notified of health transitions. Implementations must be safe
// for concurrent use.
type Observer interface {
	AccountFailed(accountID, reason string)
	AccountHealthChanged(accountID string, healthy bool)
}

// Account is the pool-owned runtime state of one credential account.
// Configuration fields are read-only after construction.
type Account struct {
	ID          string
	Name        string
	Enabled     bool
	Credentials map[string]string
	Proxy       models.ProxyConfig
	RateLimit   models.RateLimit

	mu     sync.Mutex // guards health and window
	health models.AccountHealth
	window *requestWindow

	clientMu sync.Mutex // guards client only
	client   FeedSource
}

func newAccount(rec models.Account) *Account {
	return &Account{
		ID:          rec.ID,
		Name:        rec.Name,
		Enabled:     rec.Enabled,
		Credentials: rec.Credentials,
		Proxy:       rec.Proxy,
		RateLimit:   rec.RateLimit,
		health:      rec.Health,
		window:      newRequestWindow(WindowCapacity),
	}
}

// Health returns a snapshot of the account health.
func (a *Account) Health() models.AccountHealth {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// Healthy reports the current health flag.
func (a *Account) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health.IsHealthy
}

// Record returns the persisted form of the account with current health.
func (a *Account) Record() models.Account {
	return models.Account{
		ID:          a.ID,
		Name:        a.Name,
		Enabled:     a.Enabled,
		Credentials: a.Credentials,
		Proxy:       a.Proxy,
		RateLimit:   a.RateLimit,
		Health:      a.Health(),
	}
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	MaxFailures int
	Activator   Activator
	Observer    Observer
	Logger      *slog.Logger
}

// Pool owns the accounts, selects one per request, enforces per-account
// rate budgets and tracks health.
type Pool struct {
	accounts []*Account
	byID     map[string]*Account

	mu     sync.Mutex // guards cursor and the healthy-subset computation
	cursor int

	maxFailures int
	activator   Activator
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
}

// NewPool builds a pool from persisted account records. Order is preserved
// and drives round-robin and first-healthy selection.
func NewPool(records []models.Account, cfg PoolConfig) (*Pool, error) {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		byID:        make(map[string]*Account, len(records)),
		maxFailures: cfg.MaxFailures,
		activator:   cfg.Activator,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		now:         time.Now,
	}

	enabled := 0
	for _, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("account %q has no id", rec.Name)
		}
		if _, dup := p.byID[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate account id %q", rec.ID)
		}
		acct := newAccount(rec)
		p.accounts = append(p.accounts, acct)
		p.byID[rec.ID] = acct
		if rec.Enabled {
			enabled++
		}
	}

	if enabled == 0 {
		return nil, ErrNoEnabledAccounts
	}

	p.logger.Info("account pool loaded", "accounts", len(p.accounts), "enabled", enabled)
	return p, nil
}

// Select returns one enabled, healthy account according to strategy.
func (p *Pool) Select(strategy Strategy) (*Account, error) {
	return p.SelectExcluding(strategy, nil)
}

// SelectExcluding is Select over the healthy accounts whose ids are not in
// exclude. It returns ErrNoAccountAvailable once every candidate is excluded.
func (p *Pool) SelectExcluding(strategy Strategy, exclude map[string]bool) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := make([]*Account, 0, len(p.accounts))
	for _, acct := range p.accounts {
		if acct.Enabled && acct.Healthy() && !exclude[acct.ID] {
			healthy = append(healthy, acct)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoAccountAvailable
	}

	switch strategy {
	case StrategyRoundRobin:
		acct := healthy[p.cursor%len(healthy)]
		p.cursor++
		return acct, nil
	case StrategyRandom:
		return healthy[rand.IntN(len(healthy))], nil
	default:
		return healthy[0], nil
	}
}

// CheckRateLimit evicts request timestamps older than RateWindow and reports
// whether the account still has budget. A non-positive limit means
// unlimited.
func (p *Pool) CheckRateLimit(acct *Account) bool {
	now := p.now()

	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.window.evictBefore(now.Add(-RateWindow))
	if acct.RateLimit.RequestsPerMinute <= 0 {
		return true
	}
	return acct.window.len() < acct.RateLimit.RequestsPerMinute
}

// RecordRequest appends the current time to the account's request window.
func (p *Pool) RecordRequest(acct *Account) {
	now := p.now()

	acct.mu.Lock()
	acct.window.push(now)
	acct.mu.Unlock()
}

// MarkSuccess restores the account to healthy and clears its failure count.
func (p *Pool) MarkSuccess(accountID string) error {
	acct, ok := p.byID[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	acct.mu.Lock()
	acct.health.LastSuccess = p.timestamp()
	acct.health.FailedCount = 0
	recovered := !acct.health.IsHealthy
	acct.health.IsHealthy = true
	acct.mu.Unlock()

	if recovered {
		p.logger.Info("account is healthy again", "account", acct.Name)
		if p.observer != nil {
			p.observer.AccountHealthChanged(acct.ID, true)
		}
	}
	return nil
}

// MarkFailure counts one failed attempt against the account. The account
// turns unhealthy once the count reaches the configured maximum.
func (p *Pool) MarkFailure(accountID, reason string) error {
	acct, ok := p.byID[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	acct.mu.Lock()
	acct.health.FailedCount++
	acct.health.LastError = reason
	acct.health.LastCheck = p.timestamp()
	failures := acct.health.FailedCount
	tripped := acct.health.IsHealthy && failures >= p.maxFailures
	if tripped {
		acct.health.IsHealthy = false
	}
	acct.mu.Unlock()

	if p.observer != nil {
		p.observer.AccountFailed(acct.ID, reason)
	}

	if tripped {
		p.logger.Warn("account marked unhealthy",
			"account", acct.Name,
			"failures", failures,
			"last_error", reason,
		)
		if p.observer != nil {
			p.observer.AccountHealthChanged(acct.ID, false)
		}
	}
	return nil
}

// Activate returns the account's live client, building it on first use.
// Activation of one account never blocks health reads of any account.
func (p *Pool) Activate(ctx context.Context, acct *Account) (FeedSource, error) {
	acct.clientMu.Lock()
	defer acct.clientMu.Unlock()

	if acct.client != nil {
		return acct.client, nil
	}
	if p.activator == nil {
		return nil, fmt.Errorf("account %s: no activator configured", acct.Name)
	}

	client, err := p.activator.Activate(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("activate account %s: %w", acct.Name, err)
	}

	acct.client = client
	p.logger.Info("account activated", "account", acct.Name, "proxy", acct.Proxy.Configured())
	return client, nil
}

// Get returns the account with the given id.
func (p *Pool) Get(accountID string) (*Account, bool) {
	acct, ok := p.byID[accountID]
	return acct, ok
}

// Accounts returns all accounts in configuration order.
func (p *Pool) Accounts() []*Account {
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// Len returns the number of accounts, enabled or not.
func (p *Pool) Len() int {
	return len(p.accounts)
}

// EnabledCount returns the number of enabled accounts.
func (p *Pool) EnabledCount() int {
	n := 0
	for _, acct := range p.accounts {
		if acct.Enabled {
			n++
		}
	}
	return n
}

// HealthyCount returns the number of enabled, healthy accounts.
func (p *Pool) HealthyCount() int {
	n := 0
	for _, acct := range p.accounts {
		if acct.Enabled && acct.Healthy() {
			n++
		}
	}
	return n
}

// Records returns the persisted form of every account.
func (p *Pool) Records() []models.Account {
	out := make([]models.Account, 0, len(p.accounts))
	for _, acct := range p.accounts {
		out = append(out, acct.Record())
	}
	return out
}

func (p *Pool) timestamp() string {
	return p.now().UTC().Format(time.RFC3339)
}
