package models

import "fmt"

// Item is one normalized post extracted from a raw feed fetch. Identity and
// ordering both derive from the numeric ID.
type Item struct {
	ID            string        `json:"id"`
	NumericID     uint64        `json:"-"`
	Text          string        `json:"text"`
	CreatedAt     string        `json:"created_at"`
	Metrics       ItemMetrics   `json:"metrics"`
	Author        Author        `json:"author"`
	SourceAccount SourceAccount `json:"source_account"`
}

// ItemMetrics are engagement counters; nil means the feed did not report one.
type ItemMetrics struct {
	Like    *int64 `json:"like"`
	Retweet *int64 `json:"retweet"`
	Reply   *int64 `json:"reply"`
	Quote   *int64 `json:"quote"`
}

// Author identifies the tracked entity that published the item.
type Author struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Name   string `json:"name,omitempty"`
}

// SourceAccount records which credential account fetched the item.
type SourceAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// URL returns the public permalink of the item.
func (i Item) URL() string {
	if i.ID == "" {
		return ""
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", i.Author.Handle, i.ID)
}
