package models

import "strings"

// TrackedEntity is a platform handle whose new posts are being monitored.
// It is resolved once at startup and never mutated afterwards.
type TrackedEntity struct {
	Handle      string `json:"handle"`
	ResolvedID  string `json:"resolved_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Key returns the checkpoint key for the entity (the lowercased handle).
func (e TrackedEntity) Key() string {
	return EntityKey(e.Handle)
}

// EntityKey normalizes a configured handle into a checkpoint key.
func EntityKey(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
