package accounts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/STRATINT/feedwatch/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id string, enabled, healthy bool) models.Account {
	return models.Account{
		ID:        id,
		Name:      "acct-" + id,
		Enabled:   enabled,
		RateLimit: models.RateLimit{RequestsPerMinute: 30, CooldownMinutes: 5},
		Health:    models.AccountHealth{IsHealthy: healthy},
	}
}

func newTestPool(t *testing.T, records []models.Account, maxFailures int) *Pool {
	t.Helper()
	p, err := NewPool(records, PoolConfig{MaxFailures: maxFailures, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

func TestNewPoolRequiresEnabledAccount(t *testing.T) {
	_, err := NewPool([]models.Account{record("a", false, true)}, PoolConfig{Logger: testLogger()})
	if !errors.Is(err, ErrNoEnabledAccounts) {
		t.Fatalf("err = %v, want ErrNoEnabledAccounts", err)
	}

	_, err = NewPool([]models.Account{record("a", true, true), record("a", true, true)}, PoolConfig{Logger: testLogger()})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		raw     string
		want    Strategy
		wantErr bool
	}{
		{"round_robin", StrategyRoundRobin, false},
		{"random", StrategyRandom, false},
		{"first", StrategyFirst, false},
		{"weighted", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStrategy(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectRoundRobinCycles(t *testing.T) {
	p := newTestPool(t, []models.Account{
		record("a", true, true),
		record("b", true, true),
		record("c", true, true),
	}, 3)

	var got []string
	for i := 0; i < 4; i++ {
		acct, err := p.Select(StrategyRoundRobin)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		got = append(got, acct.ID)
	}

	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection order = %v, want %v", got, want)
		}
	}
}

func TestSelectSkipsDisabledAndUnhealthy(t *testing.T) {
	p := newTestPool(t, []models.Account{
		record("a", false, true),
		record("b", true, false),
		record("c", true, true),
	}, 3)

	for _, strategy := range []Strategy{StrategyRoundRobin, StrategyRandom, StrategyFirst} {
		for i := 0; i < 5; i++ {
			acct, err := p.Select(strategy)
			if err != nil {
				t.Fatalf("%s: Select: %v", strategy, err)
			}
			if acct.ID != "c" {
				t.Fatalf("%s: selected %s, want c", strategy, acct.ID)
			}
		}
	}
}

func TestSelectFirstHealthy(t *testing.T) {
	p := newTestPool(t, []models.Account{
		record("a", true, true),
		record("b", true, true),
	}, 1)

	acct, _ := p.Select(StrategyFirst)
	if acct.ID != "a" {
		t.Fatalf("first = %s, want a", acct.ID)
	}

	if err := p.MarkFailure("a", "boom"); err != nil {
		t.Fatalf("MarkFailure: %v", err)
	}
	acct, _ = p.Select(StrategyFirst)
	if acct.ID != "b" {
		t.Fatalf("first after failure = %s, want b", acct.ID)
	}
}

func TestSelectExcluding(t *testing.T) {
	p := newTestPool(t, []models.Account{
		record("a", true, true),
		record("b", true, true),
		record("c", true, true),
	}, 3)

	for _, strategy := range []Strategy{StrategyFirst, StrategyRoundRobin, StrategyRandom} {
		acct, err := p.SelectExcluding(strategy, map[string]bool{"a": true, "c": true})
		if err != nil {
			t.Fatalf("%s: %v", strategy, err)
		}
		if acct.ID != "b" {
			t.Errorf("%s: selected %s, want b", strategy, acct.ID)
		}
	}

	_, err := p.SelectExcluding(StrategyFirst, map[string]bool{"a": true, "b": true, "c": true})
	if !errors.Is(err, ErrNoAccountAvailable) {
		t.Errorf("err = %v, want ErrNoAccountAvailable", err)
	}
}

func TestMarkFailureThresholdAndRecovery(t *testing.T) {
	p := newTestPool(t, []models.Account{record("a", true, true)}, 3)
	acct, _ := p.Get("a")

	for i := 1; i <= 2; i++ {
		if err := p.MarkFailure("a", "http 500"); err != nil {
			t.Fatalf("MarkFailure: %v", err)
		}
		if !acct.Healthy() {
			t.Fatalf("unhealthy after %d failures, want healthy until 3", i)
		}
	}

	if err := p.MarkFailure("a", "timeout after 20s"); err != nil {
		t.Fatalf("MarkFailure: %v", err)
	}
	h := acct.Health()
	if h.IsHealthy {
		t.Fatal("expected unhealthy after 3 failures")
	}
	if h.FailedCount != 3 {
		t.Errorf("FailedCount = %d, want 3", h.FailedCount)
	}
	if h.LastError != "timeout after 20s" {
		t.Errorf("LastError = %q", h.LastError)
	}
	if h.LastCheck == "" {
		t.Error("LastCheck not set")
	}

	if _, err := p.Select(StrategyRoundRobin); !errors.Is(err, ErrNoAccountAvailable) {
		t.Fatalf("Select err = %v, want ErrNoAccountAvailable", err)
	}

	if err := p.MarkSuccess("a"); err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	h = acct.Health()
	if !h.IsHealthy || h.FailedCount != 0 || h.LastSuccess == "" {
		t.Errorf("after success health = %+v", h)
	}
}

func TestMarkUnknownAccount(t *testing.T) {
	p := newTestPool(t, []models.Account{record("a", true, true)}, 3)

	if err := p.MarkFailure("zzz", "x"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("MarkFailure err = %v", err)
	}
	if err := p.MarkSuccess("zzz"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("MarkSuccess err = %v", err)
	}
}

func TestCheckRateLimitWindow(t *testing.T) {
	rec := record("a", true, true)
	rec.RateLimit.RequestsPerMinute = 2
	p := newTestPool(t, []models.Account{rec}, 3)
	acct, _ := p.Get("a")

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if !p.CheckRateLimit(acct) {
		t.Fatal("fresh account should have budget")
	}
	p.RecordRequest(acct)
	now = now.Add(10 * time.Second)
	p.RecordRequest(acct)

	if p.CheckRateLimit(acct) {
		t.Fatal("expected rate limit after 2 requests")
	}

	// 60s after the first request it falls out of the window.
	now = now.Add(50 * time.Second)
	if !p.CheckRateLimit(acct) {
		t.Fatal("expected budget once the oldest request aged out")
	}
}

func TestObserverNotified(t *testing.T) {
	obs := &recordingObserver{}
	p, err := NewPool([]models.Account{record("a", true, true)}, PoolConfig{
		MaxFailures: 1,
		Observer:    obs,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	_ = p.MarkFailure("a", "boom")
	_ = p.MarkSuccess("a")

	if obs.failures.Load() != 1 {
		t.Errorf("failures = %d, want 1", obs.failures.Load())
	}
	if obs.transitions.Load() != 2 {
		t.Errorf("transitions = %d, want 2", obs.transitions.Load())
	}
}

type recordingObserver struct {
	failures    atomic.Int32
	transitions atomic.Int32
}

func (o *recordingObserver) AccountFailed(string, string)      { o.failures.Add(1) }
func (o *recordingObserver) AccountHealthChanged(string, bool) { o.transitions.Add(1) }

type stubSource struct{}

func (stubSource) Resolve(context.Context, []string) (map[string]models.TrackedEntity, error) {
	return nil, nil
}

func (stubSource) FetchTimeline(context.Context, int64) ([]byte, error) {
	return []byte(`[]`), nil
}

func TestActivateMemoizes(t *testing.T) {
	var calls atomic.Int32
	p, err := NewPool([]models.Account{record("a", true, true)}, PoolConfig{
		Logger: testLogger(),
		Activator: ActivatorFunc(func(ctx context.Context, acct *Account) (FeedSource, error) {
			calls.Add(1)
			return stubSource{}, nil
		}),
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	acct, _ := p.Get("a")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Activate(context.Background(), acct); err != nil {
				t.Errorf("Activate: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("activator called %d times, want 1", calls.Load())
	}
}

func TestActivateErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	p, _ := NewPool([]models.Account{record("a", true, true)}, PoolConfig{
		Logger: testLogger(),
		Activator: ActivatorFunc(func(ctx context.Context, acct *Account) (FeedSource, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("guest token refused")
			}
			return stubSource{}, nil
		}),
	})
	acct, _ := p.Get("a")

	if _, err := p.Activate(context.Background(), acct); err == nil {
		t.Fatal("expected activation error")
	}
	if acct.Health().FailedCount != 0 {
		t.Error("Activate must not mark failures itself")
	}
	if _, err := p.Activate(context.Background(), acct); err != nil {
		t.Fatalf("second Activate: %v", err)
	}
}

func TestConcurrentSelectAndMark(t *testing.T) {
	p := newTestPool(t, []models.Account{
		record("a", true, true),
		record("b", true, true),
		record("c", true, true),
	}, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				acct, err := p.Select(StrategyRoundRobin)
				if err != nil {
					t.Errorf("Select: %v", err)
					return
				}
				if p.CheckRateLimit(acct) {
					p.RecordRequest(acct)
				}
				if (i+j)%2 == 0 {
					_ = p.MarkFailure(acct.ID, "x")
				} else {
					_ = p.MarkSuccess(acct.ID)
				}
			}
		}(i)
	}
	wg.Wait()

	if p.HealthyCount() != 3 {
		t.Errorf("HealthyCount = %d, want 3", p.HealthyCount())
	}
}

func TestRecordsReflectHealth(t *testing.T) {
	p := newTestPool(t, []models.Account{record("a", true, true), record("b", false, true)}, 1)
	_ = p.MarkFailure("a", "bad")

	recs := p.Records()
	if len(recs) != 2 {
		t.Fatalf("len = %d", len(recs))
	}
	if recs[0].Health.IsHealthy || recs[0].Health.LastError != "bad" {
		t.Errorf("record a health = %+v", recs[0].Health)
	}
	if p.EnabledCount() != 1 || p.Len() != 2 {
		t.Errorf("EnabledCount = %d, Len = %d", p.EnabledCount(), p.Len())
	}
}
