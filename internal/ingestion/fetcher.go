package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/STRATINT/feedwatch/internal/accounts"
	"github.com/STRATINT/feedwatch/internal/models"
)

// AccountPool is the part of the account pool the fetcher drives.
type AccountPool interface {
	Select(strategy accounts.Strategy) (*accounts.Account, error)
	SelectExcluding(strategy accounts.Strategy, exclude map[string]bool) (*accounts.Account, error)
	CheckRateLimit(acct *accounts.Account) bool
	RecordRequest(acct *accounts.Account)
	MarkSuccess(accountID string) error
	MarkFailure(accountID, reason string) error
	Activate(ctx context.Context, acct *accounts.Account) (accounts.FeedSource, error)
}

// Observer receives one call per finished entity fetch.
type Observer interface {
	ObserveFetch(outcome string, attempts int, d time.Duration)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Strategy     accounts.Strategy
	Policy       RetryPolicy
	FetchTimeout time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// Fetcher runs the per-entity fetch loop: pick an account, respect its rate
// budget, fetch with a timeout, classify the outcome, and retry with backoff
// on a different account.
type Fetcher struct {
	pool         AccountPool
	strategy     accounts.Strategy
	policy       RetryPolicy
	fetchTimeout time.Duration
	observer     Observer
	logger       *slog.Logger
}

// Result is the outcome of one entity fetch. Err is nil on success, in which
// case Items holds the new items in ascending order.
type Result struct {
	Entity    models.TrackedEntity
	Items     []models.Item
	AccountID string
	Attempts  int
	Err       error

	// Unrecognized is set when the payload matched no known timeline shape.
	// Items is then empty even though the entity may have posts.
	Unrecognized bool
}

// NewFetcher creates a fetcher over pool.
func NewFetcher(pool AccountPool, cfg FetcherConfig) *Fetcher {
	if cfg.Strategy == "" {
		cfg.Strategy = accounts.StrategyRoundRobin
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Fetcher{
		pool:         pool,
		strategy:     cfg.Strategy,
		policy:       cfg.Policy,
		fetchTimeout: cfg.FetchTimeout,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
	}
}

// Fetch returns the entity's items newer than lastID. It never blocks longer
// than MaxAttempts fetch timeouts plus backoff.
func (f *Fetcher) Fetch(ctx context.Context, entity models.TrackedEntity, lastID string) Result {
	start := time.Now()
	res := f.fetch(ctx, entity, lastID)

	if f.observer != nil {
		f.observer.ObserveFetch(OutcomeOf(res.Err).String(), res.Attempts, time.Since(start))
	}
	return res
}

func (f *Fetcher) fetch(ctx context.Context, entity models.TrackedEntity, lastID string) Result {
	res := Result{Entity: entity}
	logger := f.logger.With("entity", entity.Handle)

	userID, err := strconv.ParseInt(entity.ResolvedID, 10, 64)
	if err != nil || userID <= 0 {
		res.Err = &FetchError{
			Entity: entity.Handle,
			Kind:   OutcomeFatal,
			Err:    fmt.Errorf("%w: user id %q is not numeric", ErrMalformedInput, entity.ResolvedID),
		}
		return res
	}

	var lastErr error
	lastKind := OutcomeTransient

	// Accounts found without rate budget since the last attempt.
	skipped := make(map[string]bool)

	for res.Attempts < f.policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			res.Err = &FetchError{Entity: entity.Handle, Kind: OutcomeCanceled, Attempts: res.Attempts, Err: err}
			return res
		}

		acct, err := f.pool.SelectExcluding(f.strategy, skipped)
		if err != nil {
			if len(skipped) > 0 && errors.Is(err, accounts.ErrNoAccountAvailable) {
				res.Err = &FetchError{Entity: entity.Handle, Kind: OutcomeRateLimited, Attempts: res.Attempts, Err: ErrRateLimited}
				return res
			}
			res.Err = &FetchError{Entity: entity.Handle, Kind: OutcomeNoAccount, Attempts: res.Attempts, Err: err}
			return res
		}

		// A rate-limited account is skipped without spending an attempt and
		// the next candidate is tried.
		if !f.pool.CheckRateLimit(acct) {
			skipped[acct.ID] = true
			logger.Debug("account rate limited, skipping", "account", acct.Name)
			continue
		}
		clear(skipped)

		attempt := res.Attempts
		res.Attempts++
		res.AccountID = acct.ID

		items, kind, err := f.attempt(ctx, acct, entity, userID, lastID)
		switch kind {
		case OutcomeSuccess:
			if err := f.pool.MarkSuccess(acct.ID); err != nil {
				logger.Warn("failed to mark account healthy", "account", acct.Name, "error", err)
			}
			res.Items = items
			res.Unrecognized = errors.Is(err, ErrUnrecognizedShape)
			logger.Debug("fetch complete",
				"account", acct.Name,
				"attempt", res.Attempts,
				"new_items", len(items),
				"range", describe(items),
			)
			return res
		case OutcomeCanceled:
			res.Err = &FetchError{Entity: entity.Handle, Kind: OutcomeCanceled, Attempts: res.Attempts, Err: err}
			return res
		}

		lastErr, lastKind = err, kind
		if markErr := f.pool.MarkFailure(acct.ID, err.Error()); markErr != nil {
			logger.Warn("failed to record account failure", "account", acct.Name, "error", markErr)
		}
		logger.Warn("fetch attempt failed",
			"account", acct.Name,
			"attempt", res.Attempts,
			"outcome", kind.String(),
			"error", err,
		)

		if res.Attempts >= f.policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, f.policy.delayFor(attempt, err)); err != nil {
			res.Err = &FetchError{Entity: entity.Handle, Kind: OutcomeCanceled, Attempts: res.Attempts, Err: err}
			return res
		}
	}

	res.Err = &FetchError{
		Entity:   entity.Handle,
		Kind:     lastKind,
		Attempts: res.Attempts,
		Err:      fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr),
	}
	return res
}

type fetchReply struct {
	raw []byte
	err error
}

// attempt performs one activation plus fetch under the fetch timeout. The
// call runs in its own goroutine so a source that ignores ctx still times out.
func (f *Fetcher) attempt(ctx context.Context, acct *accounts.Account, entity models.TrackedEntity, userID int64, lastID string) ([]models.Item, Outcome, error) {
	f.pool.RecordRequest(acct)

	fetchCtx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	done := make(chan fetchReply, 1)
	go func() {
		src, err := f.pool.Activate(fetchCtx, acct)
		if err != nil {
			done <- fetchReply{err: err}
			return
		}
		raw, err := src.FetchTimeline(fetchCtx, userID)
		done <- fetchReply{raw: raw, err: err}
	}()

	var reply fetchReply
	select {
	case reply = <-done:
	case <-fetchCtx.Done():
		if ctx.Err() != nil {
			return nil, OutcomeCanceled, ctx.Err()
		}
		return nil, OutcomeTimeout, f.timeoutError()
	}

	if reply.err != nil {
		if ctx.Err() != nil {
			return nil, OutcomeCanceled, ctx.Err()
		}
		if errors.Is(reply.err, context.DeadlineExceeded) {
			return nil, OutcomeTimeout, f.timeoutError()
		}
		return nil, OutcomeTransient, reply.err
	}

	source := models.SourceAccount{ID: acct.ID, Name: acct.Name}
	items, err := Normalize(reply.raw, entity, lastID, source)
	switch {
	case errors.Is(err, ErrUnrecognizedShape):
		f.logger.Warn("timeline payload has an unrecognized shape",
			"entity", entity.Handle,
			"account", acct.Name,
			"bytes", len(reply.raw),
		)
		return nil, OutcomeSuccess, err
	case err != nil:
		return nil, OutcomeTransient, err
	}
	return items, OutcomeSuccess, nil
}

func (f *Fetcher) timeoutError() error {
	return fmt.Errorf("timeout after %s", f.fetchTimeout)
}

// Resolve maps handles to tracked entities using any healthy account,
// retrying on a fresh account when a lookup fails.
func (f *Fetcher) Resolve(ctx context.Context, handles []string) (map[string]models.TrackedEntity, error) {
	var resolved map[string]models.TrackedEntity

	err := Retry(ctx, f.policy, func(attempt int) error {
		acct, err := f.pool.Select(f.strategy)
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
		defer cancel()

		src, err := f.pool.Activate(callCtx, acct)
		if err == nil {
			resolved, err = src.Resolve(callCtx, handles)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if markErr := f.pool.MarkFailure(acct.ID, err.Error()); markErr != nil {
				f.logger.Warn("failed to record account failure", "account", acct.Name, "error", markErr)
			}
			f.logger.Warn("handle resolution failed",
				"account", acct.Name,
				"attempt", attempt+1,
				"error", err,
			)
			return NewRetryableError(err)
		}

		if err := f.pool.MarkSuccess(acct.ID); err != nil {
			f.logger.Warn("failed to mark account healthy", "account", acct.Name, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve handles: %w", err)
	}
	return resolved, nil
}
