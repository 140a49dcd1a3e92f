package models

import (
	"time"
)

// Search domains. Each domain runs the same lifecycle with its own
// parameters, staleness threshold, and provider fetch.
const (
	DomainResearch = "research"
	DomainProfiles = "profiles"
	DomainJobs     = "jobs"
)

// SearchStatus enumerates lifecycle states persisted in Postgres.
// A search transitions out of pending exactly once; recovery from a stale or
// expired row always creates a new search rather than resetting the old one.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Search tracks one user-initiated search or research request through its
// pending -> complete/failed lifecycle.
type Search struct {
	ID        string         `json:"id"`
	Domain    string         `json:"domain"`
	DedupKey  string         `json:"dedup_key"`
	Params    map[string]any `json:"params"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *string        `json:"error,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Expired reports whether a pending search has outlived its window. The
// stored status may still read pending; consumers treat such rows as failed.
func (s Search) Expired(now time.Time) bool {
	return s.Status == StatusPending && s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Stale reports whether a complete search is too old to serve from cache.
func (s Search) Stale(now time.Time, threshold time.Duration) bool {
	return s.Status == StatusComplete && now.Sub(s.UpdatedAt) > threshold
}
