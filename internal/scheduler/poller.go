package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/STRATINT/feedwatch/internal/checkpoint"
	"github.com/STRATINT/feedwatch/internal/ingestion"
	"github.com/STRATINT/feedwatch/internal/models"
	"github.com/STRATINT/feedwatch/internal/notify"
)

// EntityFetcher fetches the new items of one entity.
type EntityFetcher interface {
	Fetch(ctx context.Context, entity models.TrackedEntity, lastID string) ingestion.Result
}

// HealthStore persists account health.
type HealthStore interface {
	SaveHealth(records []models.Account) error
}

// AccountRecords exposes the pool's current account state.
type AccountRecords interface {
	Records() []models.Account
	HealthyCount() int
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Entities    []models.TrackedEntity
	Interval    time.Duration
	SkipInitial bool

	// Workers caps concurrent fetches; the effective size is
	// min(len(Entities), Workers).
	Workers int

	Accounts    AccountRecords
	HealthStore HealthStore
	Observer    Observer
	Logger      *slog.Logger
}

// RoundStats summarizes one round.
type RoundStats struct {
	RoundID        string
	Entities       int
	Failed         int
	Baselined      int
	Delivered      int
	DeliveryErrors int
}

// Poller runs rounds: fetch every entity concurrently, deliver new items in
// ascending order per entity, then advance and persist the checkpoint.
type Poller struct {
	fetcher     EntityFetcher
	notifier    notify.Notifier
	checkpoints checkpoint.Store

	entities    []models.TrackedEntity
	interval    time.Duration
	skipInitial bool
	workers     int
	accounts    AccountRecords
	healthStore HealthStore
	observer    Observer
	logger      *slog.Logger

	// Owned by the goroutine running Run or RunRound.
	state   checkpoint.State
	pending map[string]bool
	dirty   bool

	published atomic.Pointer[checkpoint.State]
}

// NewPoller creates a poller.
func NewPoller(fetcher EntityFetcher, notifier notify.Notifier, checkpoints checkpoint.Store, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Poller{
		fetcher:     fetcher,
		notifier:    notifier,
		checkpoints: checkpoints,
		entities:    cfg.Entities,
		interval:    cfg.Interval,
		skipInitial: cfg.SkipInitial,
		workers:     min(len(cfg.Entities), cfg.Workers),
		accounts:    cfg.Accounts,
		healthStore: cfg.HealthStore,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		state:       checkpoint.State{},
		pending:     make(map[string]bool),
	}
	p.publish()
	return p
}

// Load reads the durable checkpoint and decides which entities need a
// baseline. A corrupt checkpoint is logged and replaced by an empty one.
func (p *Poller) Load(ctx context.Context) error {
	state, err := p.checkpoints.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrCorrupt):
		p.logger.Error("checkpoint is corrupt, starting empty", "error", err)
		state = checkpoint.State{}
	case err != nil:
		return fmt.Errorf("load checkpoint: %w", err)
	}

	p.state = state
	p.pending = make(map[string]bool)
	if p.skipInitial {
		for _, e := range p.entities {
			if !state.Has(e.Key()) {
				p.pending[e.Key()] = true
			}
		}
	}
	p.publish()

	p.logger.Info("checkpoint loaded",
		"entities_with_checkpoint", len(state),
		"pending_baseline", len(p.pending),
	)
	return nil
}

// Run loads the checkpoint and polls until ctx is done, then flushes the
// final state.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Load(ctx); err != nil {
		return err
	}

	p.logger.Info("poller starting",
		"entities", len(p.entities),
		"workers", p.workers,
		"interval", p.interval,
		"skip_initial", p.skipInitial,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller shutting down")
			p.flush()
			return nil
		case <-timer.C:
		}

		p.RunRound(ctx)
		timer.Reset(p.interval)
	}
}

type job struct {
	entity   models.TrackedEntity
	lastID   string
	baseline bool
}

// RunRound executes one round and returns its stats.
func (p *Poller) RunRound(ctx context.Context) RoundStats {
	start := time.Now()
	stats := RoundStats{RoundID: uuid.NewString(), Entities: len(p.entities)}
	logger := p.logger.With("round_id", stats.RoundID)

	jobs := make([]job, len(p.entities))
	for i, e := range p.entities {
		jobs[i] = job{entity: e, lastID: p.state.Get(e.Key()), baseline: p.pending[e.Key()]}
	}

	results := p.fanOut(ctx, jobs)

	for i, res := range results {
		j := jobs[i]
		key := j.entity.Key()

		if res.Err != nil {
			stats.Failed++
			logger.Warn("entity fetch failed",
				"entity", j.entity.Handle,
				"outcome", ingestion.OutcomeOf(res.Err).String(),
				"attempts", res.Attempts,
				"error", res.Err,
			)
			continue
		}

		if j.baseline {
			if n := len(res.Items); n > 0 && p.state.Advance(key, res.Items[n-1].ID) {
				p.dirty = true
			}
			// Baseline mode ends only once a checkpoint exists. Without one the
			// next round would deliver the whole history.
			if !p.state.Has(key) {
				logger.Warn("baseline not recorded, retrying next round",
					"entity", j.entity.Handle,
					"unrecognized_payload", res.Unrecognized,
				)
				continue
			}
			delete(p.pending, key)
			stats.Baselined++
			logger.Info("baseline recorded", "entity", j.entity.Handle, "last_item_id", p.state.Get(key))
			continue
		}

		if !p.deliver(ctx, logger, j.entity, res.Items, &stats) {
			break
		}
	}

	if p.dirty {
		p.saveCheckpoint(ctx, logger)
	}
	p.saveHealth(logger)
	p.publish()

	p.observer.RoundCompleted(time.Since(start), stats.Entities, stats.Failed)
	logger.Info("round complete",
		"entities", stats.Entities,
		"failed", stats.Failed,
		"baselined", stats.Baselined,
		"delivered", stats.Delivered,
		"delivery_errors", stats.DeliveryErrors,
		"duration", time.Since(start),
	)
	return stats
}

// fanOut runs one fetch per job on min(jobs, workers) goroutines. Results
// keep job order.
func (p *Poller) fanOut(ctx context.Context, jobs []job) []ingestion.Result {
	results := make([]ingestion.Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(len(jobs), p.workers); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = p.fetcher.Fetch(ctx, jobs[i].entity, jobs[i].lastID)
			}
		}()
	}

	for i := range jobs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

// deliver sends items in ascending order, advancing the checkpoint after each
// attempt. A failed delivery still advances. It returns false when ctx was
// canceled before every item was attempted.
func (p *Poller) deliver(ctx context.Context, logger *slog.Logger, entity models.TrackedEntity, items []models.Item, stats *RoundStats) bool {
	key := entity.Key()

	for _, item := range items {
		if ctx.Err() != nil {
			logger.Info("shutdown requested, deferring remaining items", "entity", entity.Handle)
			return false
		}

		// An in-flight delivery is allowed to finish after shutdown begins.
		err := p.notifier.Send(context.WithoutCancel(ctx), item)
		p.observer.DeliveryAttempted(err == nil)
		if err != nil {
			stats.DeliveryErrors++
			logger.Error("delivery failed",
				"entity", entity.Handle,
				"item_id", item.ID,
				"account", item.SourceAccount.Name,
				"error", err,
			)
		} else {
			stats.Delivered++
			logger.Info("item delivered", "entity", entity.Handle, "item_id", item.ID, "account", item.SourceAccount.Name)
		}

		if p.state.Advance(key, item.ID) {
			p.dirty = true
		}
	}
	return true
}

func (p *Poller) saveCheckpoint(ctx context.Context, logger *slog.Logger) {
	err := p.checkpoints.Save(context.WithoutCancel(ctx), p.state.Clone())
	p.observer.CheckpointSaved(err == nil)
	if err != nil {
		logger.Error("failed to persist checkpoint", "error", err)
		return
	}
	p.dirty = false
}

func (p *Poller) saveHealth(logger *slog.Logger) {
	if p.accounts == nil {
		return
	}
	p.observer.AccountsHealthy(p.accounts.HealthyCount())
	if p.healthStore == nil {
		return
	}
	if err := p.healthStore.SaveHealth(p.accounts.Records()); err != nil {
		logger.Error("failed to persist account health", "error", err)
	}
}

func (p *Poller) flush() {
	if p.dirty {
		p.saveCheckpoint(context.Background(), p.logger)
	}
	p.saveHealth(p.logger)
	p.publish()
}

func (p *Poller) publish() {
	snapshot := p.state.Clone()
	p.published.Store(&snapshot)
}

// Checkpoint returns the state as of the end of the last round. Safe to call
// from any goroutine.
func (p *Poller) Checkpoint() checkpoint.State {
	return *p.published.Load()
}

// Entities returns the tracked entities.
func (p *Poller) Entities() []models.TrackedEntity {
	return p.entities
}
