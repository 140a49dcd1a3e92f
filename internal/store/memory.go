package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arouf1/cs-api/internal/models"
)

// Memory is an in-memory Store used by tests and local development. It
// mirrors the Postgres semantics, including the unique (provider, dedup_key)
// constraint and the conditional processing claim.
type Memory struct {
	mu       sync.Mutex
	searches map[string]models.Search
	results  map[string]models.Result

	// Clock lets tests control time; defaults to time.Now.
	Clock func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		searches: make(map[string]models.Search),
		results:  make(map[string]models.Result),
		Clock:    time.Now,
	}
}

func (m *Memory) now() time.Time {
	return m.Clock().UTC()
}

func (m *Memory) CreateSearch(_ context.Context, p CreateSearchParams) (models.Search, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	expires := p.ExpiresAt
	s := models.Search{
		ID:        uuid.New().String(),
		Domain:    p.Domain,
		DedupKey:  p.DedupKey,
		Params:    p.Params,
		Status:    models.StatusPending,
		ExpiresAt: &expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.searches[s.ID] = s
	return s, nil
}

func (m *Memory) GetSearch(_ context.Context, id string) (models.Search, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	return s, ok, nil
}

func (m *Memory) LatestSearchByKey(_ context.Context, domain, dedupKey string) (models.Search, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest models.Search
	found := false
	for _, s := range m.searches {
		if s.Domain != domain || s.DedupKey != dedupKey {
			continue
		}
		if !found || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
			found = true
		}
	}
	return latest, found, nil
}

func (m *Memory) CompleteSearch(_ context.Context, id string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	if !ok || s.Status != models.StatusPending {
		return nil
	}
	s.Status = models.StatusComplete
	s.Data = data
	s.Error = nil
	s.ExpiresAt = nil
	s.UpdatedAt = m.now()
	m.searches[id] = s
	return nil
}

func (m *Memory) FailSearch(_ context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.searches[id]
	if !ok || s.Status != models.StatusPending {
		return nil
	}
	s.Status = models.StatusFailed
	s.Error = &errMsg
	s.ExpiresAt = nil
	s.UpdatedAt = m.now()
	m.searches[id] = s
	return nil
}

func (m *Memory) ExpirePendingSearches(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	msg := "search expired before completing"
	for id, s := range m.searches {
		if s.Status == models.StatusPending && s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			s.Status = models.StatusFailed
			s.Error = &msg
			s.ExpiresAt = nil
			s.UpdatedAt = m.now()
			m.searches[id] = s
			count++
		}
	}
	return count, nil
}

func (m *Memory) InsertResult(_ context.Context, searchID *string, domain string, c models.Candidate) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.results {
		if r.Provider == c.Provider && r.DedupKey == c.DedupKey {
			return id, false, nil
		}
	}
	now := m.now()
	r := models.Result{
		ID:        uuid.New().String(),
		SearchID:  searchID,
		Domain:    domain,
		Provider:  c.Provider,
		DedupKey:  c.DedupKey,
		Raw:       c.Raw,
		State:     models.StateUnprocessed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.results[r.ID] = r
	return r.ID, true, nil
}

func (m *Memory) GetResult(_ context.Context, id string) (models.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	return r, ok, nil
}

func (m *Memory) ListResultsBySearch(_ context.Context, searchID string) ([]models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Result
	for _, r := range m.results {
		if r.SearchID != nil && *r.SearchID == searchID {
			out = append(out, r)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *Memory) SelectUnprocessed(_ context.Context, domain string, limit int) ([]models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Result
	for _, r := range m.results {
		if r.Domain == domain && r.State == models.StateUnprocessed {
			out = append(out, r)
		}
	}
	sortByCreated(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkResultProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok || r.State != models.StateUnprocessed {
		return false, nil
	}
	r.State = models.StateProcessing
	r.UpdatedAt = m.now()
	m.results[id] = r
	return true, nil
}

func (m *Memory) CompleteResult(_ context.Context, id string, enriched map[string]any, embeddings map[string][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil
	}
	r.Enriched = enriched
	r.Embeddings = embeddings
	r.State = models.StateProcessed
	r.ProcessingError = nil
	r.UpdatedAt = m.now()
	m.results[id] = r
	return nil
}

func (m *Memory) FailResult(_ context.Context, id string, procErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil
	}
	r.State = models.StateUnprocessed
	r.ProcessingError = &procErr
	r.UpdatedAt = m.now()
	m.results[id] = r
	return nil
}

func (m *Memory) MarkResultUnprocessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return nil
	}
	r.State = models.StateUnprocessed
	r.UpdatedAt = m.now()
	m.results[id] = r
	return nil
}

func (m *Memory) SelectStaleProcessed(_ context.Context, domain string, cutoff time.Time, limit int) ([]models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Result
	for _, r := range m.results {
		if r.Domain == domain && r.State == models.StateProcessed && r.UpdatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountResultsBySearch(_ context.Context, searchID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, processed := 0, 0
	for _, r := range m.results {
		if r.SearchID == nil || *r.SearchID != searchID {
			continue
		}
		total++
		if r.State == models.StateProcessed {
			processed++
		}
	}
	return total, processed, nil
}

func sortByCreated(rs []models.Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}
