// Package checkpoint persists the last delivered item id per tracked entity
// so a restarted poller neither re-delivers nor skips items.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrCorrupt marks a checkpoint document that exists but cannot be decoded.
var ErrCorrupt = errors.New("checkpoint corrupt")

// Entry is the checkpoint of one entity.
type Entry struct {
	LastItemID string `json:"last_item_id"`
}

// UnmarshalJSON also accepts the last_tweet_id key and the bare string or
// number written by earlier tracker versions.
func (e *Entry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		var id json.Number
		if err := json.Unmarshal(trimmed, &id); err != nil {
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return err
			}
			id = json.Number(s)
		}
		e.LastItemID = id.String()
		return nil
	}

	var raw struct {
		LastItemID  string `json:"last_item_id"`
		LastTweetID string `json:"last_tweet_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.LastItemID = raw.LastItemID
	if e.LastItemID == "" {
		e.LastItemID = raw.LastTweetID
	}
	return nil
}

// State maps entity keys to their checkpoint. The scheduler goroutine is the
// only writer.
type State map[string]Entry

// Get returns the last delivered id for key, or "" when there is none.
func (s State) Get(key string) string {
	return s[key].LastItemID
}

// Has reports whether key has a usable checkpoint. A non-numeric value
// counts as absent.
func (s State) Has(key string) bool {
	e, ok := s[key]
	if !ok {
		return false
	}
	_, err := strconv.ParseUint(e.LastItemID, 10, 64)
	return err == nil
}

// Advance moves key forward to id. It returns false and leaves the state
// unchanged when id is not numerically greater than the current value.
func (s State) Advance(key, id string) bool {
	next, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return false
	}
	if cur, ok := s[key]; ok {
		prev, err := strconv.ParseUint(cur.LastItemID, 10, 64)
		if err == nil && next <= prev {
			return false
		}
	}
	s[key] = Entry{LastItemID: id}
	return true
}

// Clone returns an independent copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Store is durable checkpoint storage. Save replaces the whole state
// atomically.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
	Close() error
}
