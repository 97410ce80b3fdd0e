package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means every account tried was out of request budget.
	ErrRateLimited = errors.New("all accounts rate limited")

	// ErrMalformedInput means the entity cannot be fetched at all, for
	// example a resolved id that is not numeric. It is never retried.
	ErrMalformedInput = errors.New("malformed fetch input")

	// ErrRetriesExhausted wraps the last failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrUnrecognizedShape means a payload parsed as JSON but matched none of
	// the known timeline shapes.
	ErrUnrecognizedShape = errors.New("unrecognized timeline shape")

	// ErrMalformedPayload means the payload is not valid JSON.
	ErrMalformedPayload = errors.New("malformed timeline payload")
)

// Outcome classifies a single fetch attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeTimeout
	OutcomeTransient
	OutcomeFatal
	OutcomeNoAccount
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	case OutcomeNoAccount:
		return "no_account"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FetchError reports why an entity produced no result this round.
type FetchError struct {
	Entity   string
	Kind     Outcome
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.Entity, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// OutcomeOf returns the outcome carried by err, or OutcomeSuccess for nil.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return OutcomeTransient
}
