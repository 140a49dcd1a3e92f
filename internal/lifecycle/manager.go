// Package lifecycle implements the duplicate-prevention / asynchronous
// search lifecycle shared by all three domains: find-or-create a search
// keyed by its parameters, track it pending -> complete/failed with expiry,
// let background workers fill in results, and serve cached results to
// repeat callers.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arouf1/cs-api/internal/models"
	"github.com/arouf1/cs-api/internal/store"
	"github.com/arouf1/cs-api/internal/telemetry"
)

// defaultPendingTimeout bounds how long a pending search stays reusable.
// Past it the row is treated as failed by readers even before the cleanup
// pass rewrites it.
const defaultPendingTimeout = 5 * time.Minute

// FetchFunc retrieves raw candidates from the domain's provider gateway.
type FetchFunc func(ctx context.Context, params map[string]any) ([]models.Candidate, models.Usage, error)

// Domain describes one search family: how its parameters key a search, how
// long a complete search stays fresh, and how candidates are fetched.
type Domain struct {
	Name           string
	Staleness      time.Duration
	PendingTimeout time.Duration
	KeyFields      []string
	Fetch          FetchFunc
}

// Dispatcher hands a created search off for background execution. The
// request path never blocks on the fetch itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, searchID string) error
}

// Archiver optionally persists verbatim raw provider payloads for audit.
type Archiver interface {
	Archive(ctx context.Context, domain, searchID string, payload any) error
}

// Resolution is what a caller gets back from FindOrCreate: an ID to poll,
// the current status, and the cached payload when one was reusable.
type Resolution struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *string        `json:"error,omitempty"`
	IsExisting bool           `json:"is_existing"`
}

// Manager runs the lifecycle state machine for one domain.
type Manager struct {
	domain     Domain
	store      store.Store
	dispatcher Dispatcher
	archiver   Archiver

	// now is injectable for tests.
	now func() time.Time
}

func NewManager(domain Domain, st store.Store, dispatcher Dispatcher, archiver Archiver) *Manager {
	if domain.PendingTimeout == 0 {
		domain.PendingTimeout = defaultPendingTimeout
	}
	return &Manager{
		domain:     domain,
		store:      st,
		dispatcher: dispatcher,
		archiver:   archiver,
		now:        time.Now,
	}
}

// DomainName returns the domain this manager serves.
func (m *Manager) DomainName() string { return m.domain.Name }

// DedupKey derives the cache key from the domain's key fields. Values are
// trimmed and lowercased so equivalent requests collide.
func (m *Manager) DedupKey(params map[string]any) string {
	parts := make([]string, len(m.domain.KeyFields))
	for i, field := range m.domain.KeyFields {
		v := params[field]
		if v == nil {
			continue
		}
		parts[i] = strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
	return strings.Join(parts, "|")
}

// FindOrCreate returns a reusable prior search or creates a pending one and
// dispatches its fetch. The caller always gets an immediate answer; results
// converge in the background.
func (m *Manager) FindOrCreate(ctx context.Context, params map[string]any) (Resolution, error) {
	now := m.now().UTC()

	// Advisory housekeeping; the read-time checks below are the real guard.
	if n, err := m.store.ExpirePendingSearches(ctx, now); err != nil {
		log.Printf("[lifecycle:%s] expire pass failed: %v", m.domain.Name, err)
	} else if n > 0 {
		log.Printf("[lifecycle:%s] expired %d stuck pending searches", m.domain.Name, n)
	}

	key := m.DedupKey(params)
	existing, found, err := m.store.LatestSearchByKey(ctx, m.domain.Name, key)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup search: %w", err)
	}

	if found {
		switch existing.Status {
		case models.StatusComplete:
			if !existing.Stale(now, m.domain.Staleness) {
				telemetry.SearchesReused.WithLabelValues(m.domain.Name).Inc()
				return Resolution{
					ID:         existing.ID,
					Status:     models.StatusComplete,
					Data:       existing.Data,
					IsExisting: true,
				}, nil
			}
			// Stale: fall through and create a fresh search; the old row
			// stays untouched as a historical record.
		case models.StatusPending:
			if !existing.Expired(now) {
				telemetry.SearchesReused.WithLabelValues(m.domain.Name).Inc()
				return Resolution{
					ID:         existing.ID,
					Status:     models.StatusPending,
					IsExisting: true,
				}, nil
			}
			// Expired pending reads as failed: create a fresh search.
		case models.StatusFailed:
			// Always retry a failed search with a fresh row.
		}
	}

	created, err := m.store.CreateSearch(ctx, store.CreateSearchParams{
		Domain:    m.domain.Name,
		DedupKey:  key,
		Params:    params,
		ExpiresAt: now.Add(m.domain.PendingTimeout),
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("create search: %w", err)
	}
	telemetry.SearchesCreated.WithLabelValues(m.domain.Name).Inc()

	if err := m.dispatcher.Dispatch(ctx, created.ID); err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		_ = m.store.FailSearch(ctx, created.ID, msg)
		return Resolution{}, fmt.Errorf("dispatch search: %w", err)
	}

	return Resolution{ID: created.ID, Status: models.StatusPending}, nil
}

// Get is the poll surface: a plain read, idempotent after terminal state.
func (m *Manager) Get(ctx context.Context, id string) (models.Search, bool, error) {
	search, found, err := m.store.GetSearch(ctx, id)
	if err != nil || !found {
		return models.Search{}, found, err
	}
	// Lazy expiry: an expired pending row reads as failed without waiting
	// for the cleanup pass.
	if search.Expired(m.now().UTC()) {
		msg := "search expired before completing"
		search.Status = models.StatusFailed
		search.Error = &msg
	}
	return search, true, nil
}

// RunFetch executes the background half of a search: provider fetch, raw
// candidate persistence, and the terminal status write. Every failure is
// converted into a failed search; nothing propagates to the original caller.
func (m *Manager) RunFetch(ctx context.Context, searchID string) error {
	search, found, err := m.store.GetSearch(ctx, searchID)
	if err != nil {
		return fmt.Errorf("load search %s: %w", searchID, err)
	}
	if !found {
		log.Printf("[lifecycle:%s] search %s vanished before fetch", m.domain.Name, searchID)
		return nil
	}
	if search.Status != models.StatusPending {
		return nil
	}

	candidates, usage, err := m.domain.Fetch(ctx, search.Params)
	if err != nil {
		telemetry.FetchFailures.WithLabelValues(m.domain.Name).Inc()
		if failErr := m.store.FailSearch(ctx, searchID, err.Error()); failErr != nil {
			return fmt.Errorf("fail search %s: %w", searchID, failErr)
		}
		log.Printf("[lifecycle:%s] fetch for %s failed: %v", m.domain.Name, searchID, err)
		return nil
	}

	if m.archiver != nil {
		if archErr := m.archiver.Archive(ctx, m.domain.Name, searchID, candidates); archErr != nil {
			log.Printf("[lifecycle:%s] archive for %s failed: %v", m.domain.Name, searchID, archErr)
		}
	}

	inserted, duplicates := 0, 0
	for _, c := range candidates {
		_, isNew, insErr := m.store.InsertResult(ctx, &search.ID, m.domain.Name, c)
		if insErr != nil {
			log.Printf("[lifecycle:%s] persist candidate %q: %v", m.domain.Name, c.DedupKey, insErr)
			continue
		}
		if isNew {
			inserted++
		} else {
			duplicates++
		}
	}

	data := map[string]any{
		"results":    len(candidates),
		"inserted":   inserted,
		"duplicates": duplicates,
		"provider":   usage.Provider,
		"latency_ms": usage.LatencyMS,
		"cost_usd":   usage.CostUSD,
	}
	if err := m.store.CompleteSearch(ctx, searchID, data); err != nil {
		return fmt.Errorf("complete search %s: %w", searchID, err)
	}
	telemetry.FetchSuccesses.WithLabelValues(m.domain.Name).Inc()
	log.Printf("[lifecycle:%s] search %s complete: results=%d inserted=%d duplicates=%d provider=%s",
		m.domain.Name, searchID, len(candidates), inserted, duplicates, usage.Provider)
	return nil
}

// Registry resolves a search's domain to its manager; the dispatcher uses it
// to route dequeued searches.
type Registry map[string]*Manager

func NewRegistry(managers ...*Manager) Registry {
	r := make(Registry, len(managers))
	for _, m := range managers {
		r[m.DomainName()] = m
	}
	return r
}
