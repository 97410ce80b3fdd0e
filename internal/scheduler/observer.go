package scheduler

import "time"

// Observer receives scheduler events for metrics. Implementations must be
// safe for concurrent use.
type Observer interface {
	RoundCompleted(d time.Duration, entities, failed int)
	DeliveryAttempted(ok bool)
	CheckpointSaved(ok bool)
	ProbeCompleted(ok bool)
	AccountsHealthy(n int)
}

type nopObserver struct{}

func (nopObserver) RoundCompleted(time.Duration, int, int) {}
func (nopObserver) DeliveryAttempted(bool)                 {}
func (nopObserver) CheckpointSaved(bool)                   {}
func (nopObserver) ProbeCompleted(bool)                    {}
func (nopObserver) AccountsHealthy(int)                    {}
