package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arouf1/cs-api/internal/models"
	"github.com/arouf1/cs-api/internal/store"
)

// recordingDispatcher captures dispatched search IDs; optionally fails.
type recordingDispatcher struct {
	dispatched []string
	err        error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, searchID string) error {
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, searchID)
	return nil
}

// recordingArchiver captures archive calls.
type recordingArchiver struct {
	calls int
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, _, _ string, _ any) error {
	a.calls++
	return a.err
}

func staticCandidates(cs []models.Candidate, usage models.Usage, err error) FetchFunc {
	return func(context.Context, map[string]any) ([]models.Candidate, models.Usage, error) {
		return cs, usage, err
	}
}

func testDomain(fetch FetchFunc) Domain {
	return Domain{
		Name:           models.DomainJobs,
		Staleness:      24 * time.Hour,
		PendingTimeout: 5 * time.Minute,
		KeyFields:      []string{"query", "location", "country_code", "num_results"},
		Fetch:          fetch,
	}
}

func newTestManager(t *testing.T, fetch FetchFunc) (*Manager, *store.Memory, *recordingDispatcher, *time.Time) {
	t.Helper()
	st := store.NewMemory()
	disp := &recordingDispatcher{}
	m := NewManager(testDomain(fetch), st, disp, nil)

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m.now = func() time.Time { return *clock }
	st.Clock = func() time.Time { return *clock }
	return m, st, disp, clock
}

func jobParams() map[string]any {
	return map[string]any{
		"query":        "Software Engineer",
		"location":     "London",
		"country_code": "GB",
		"num_results":  10,
	}
}

func TestDedupKey_NormalizesCaseAndWhitespace(t *testing.T) {
	m, _, _, _ := newTestManager(t, nil)

	a := m.DedupKey(map[string]any{
		"query": "  Software Engineer ", "location": "LONDON", "country_code": "gb", "num_results": 10,
	})
	b := m.DedupKey(jobParams())
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}

	c := m.DedupKey(map[string]any{
		"query": "software engineer", "location": "Leeds", "country_code": "gb", "num_results": 10,
	})
	if c == b {
		t.Fatal("different locations produced the same key")
	}
}

func TestFindOrCreate_ReusesPendingSearch(t *testing.T) {
	m, _, disp, _ := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.IsExisting || first.Status != models.StatusPending {
		t.Fatalf("first = %+v, want new pending", first)
	}

	second, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.IsExisting {
		t.Fatal("second call created a duplicate search")
	}
	if second.ID != first.ID {
		t.Fatalf("second ID = %s, want %s", second.ID, first.ID)
	}
	if len(disp.dispatched) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(disp.dispatched))
	}
}

func TestFindOrCreate_ExpiredPendingCreatesNewSearch(t *testing.T) {
	m, _, disp, clock := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	*clock = clock.Add(6 * time.Minute)

	second, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.IsExisting {
		t.Fatal("expired pending search reused")
	}
	if second.ID == first.ID {
		t.Fatal("expired pending search returned its own ID")
	}
	if len(disp.dispatched) != 2 {
		t.Fatalf("dispatched %d times, want 2", len(disp.dispatched))
	}

	// The cleanup pass marked the old row failed.
	old, found, _ := m.Get(ctx, first.ID)
	if !found || old.Status != models.StatusFailed {
		t.Fatalf("old search status = %q, want failed", old.Status)
	}
}

func TestFindOrCreate_ReusesFreshCompleteSearch(t *testing.T) {
	fetch := staticCandidates([]models.Candidate{
		{Provider: "serp", DedupKey: "job-1", Raw: map[string]any{"title": "a"}},
	}, models.Usage{Provider: "serp"}, nil)
	m, _, _, clock := newTestManager(t, fetch)
	ctx := context.Background()

	first, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := m.RunFetch(ctx, first.ID); err != nil {
		t.Fatalf("run fetch: %v", err)
	}

	*clock = clock.Add(time.Hour)

	second, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.IsExisting || second.Status != models.StatusComplete {
		t.Fatalf("second = %+v, want existing complete", second)
	}
	if second.ID != first.ID {
		t.Fatalf("second ID = %s, want %s", second.ID, first.ID)
	}
	if second.Data == nil || second.Data["inserted"] != 1 {
		t.Fatalf("cached data = %v", second.Data)
	}
}

func TestFindOrCreate_StaleCompleteCreatesNewSearch(t *testing.T) {
	fetch := staticCandidates(nil, models.Usage{Provider: "serp"}, nil)
	m, _, _, clock := newTestManager(t, fetch)
	ctx := context.Background()

	first, _ := m.FindOrCreate(ctx, jobParams())
	if err := m.RunFetch(ctx, first.ID); err != nil {
		t.Fatalf("run fetch: %v", err)
	}

	// Beyond the 24h staleness threshold.
	*clock = clock.Add(25 * time.Hour)

	second, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.IsExisting {
		t.Fatal("stale complete search reused")
	}
	if second.ID == first.ID {
		t.Fatal("stale search returned its own ID")
	}

	// Historical record untouched.
	old, _, _ := m.Get(ctx, first.ID)
	if old.Status != models.StatusComplete {
		t.Fatalf("old status = %q, want complete", old.Status)
	}
}

func TestFindOrCreate_FailedSearchAlwaysRetries(t *testing.T) {
	fetch := staticCandidates(nil, models.Usage{}, errors.New("provider down"))
	m, _, _, _ := newTestManager(t, fetch)
	ctx := context.Background()

	first, _ := m.FindOrCreate(ctx, jobParams())
	if err := m.RunFetch(ctx, first.ID); err != nil {
		t.Fatalf("run fetch: %v", err)
	}
	failed, _, _ := m.Get(ctx, first.ID)
	if failed.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", failed.Status)
	}

	second, err := m.FindOrCreate(ctx, jobParams())
	if err != nil {
		t.Fatalf("retry call: %v", err)
	}
	if second.IsExisting || second.ID == first.ID {
		t.Fatalf("failed search not retried with a new row: %+v", second)
	}
}

func TestFindOrCreate_DispatchFailureFailsSearch(t *testing.T) {
	st := store.NewMemory()
	disp := &recordingDispatcher{err: errors.New("queue unavailable")}
	m := NewManager(testDomain(nil), st, disp, nil)
	ctx := context.Background()

	_, err := m.FindOrCreate(ctx, jobParams())
	if err == nil {
		t.Fatal("expected dispatch error")
	}

	// The created row must not remain pending.
	key := m.DedupKey(jobParams())
	s, found, _ := st.LatestSearchByKey(ctx, models.DomainJobs, key)
	if !found {
		t.Fatal("search row missing")
	}
	if s.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", s.Status)
	}
}

func TestRunFetch_PersistsCandidatesAndCompletes(t *testing.T) {
	candidates := []models.Candidate{
		{Provider: "serp", DedupKey: "job-1", Raw: map[string]any{"title": "a"}},
		{Provider: "serp", DedupKey: "job-2", Raw: map[string]any{"title": "b"}},
		{Provider: "serp", DedupKey: "job-3", Raw: map[string]any{"title": "c"}},
	}
	fetch := staticCandidates(candidates, models.Usage{Provider: "serp", CostUSD: 0.01, LatencyMS: 12}, nil)
	m, st, _, _ := newTestManager(t, fetch)
	ctx := context.Background()

	res, _ := m.FindOrCreate(ctx, jobParams())
	if err := m.RunFetch(ctx, res.ID); err != nil {
		t.Fatalf("run fetch: %v", err)
	}

	s, _, _ := m.Get(ctx, res.ID)
	if s.Status != models.StatusComplete {
		t.Fatalf("status = %q, want complete", s.Status)
	}
	if s.Data["results"] != 3 || s.Data["inserted"] != 3 || s.Data["duplicates"] != 0 {
		t.Fatalf("data = %v", s.Data)
	}
	if s.Data["provider"] != "serp" {
		t.Fatalf("provider = %v", s.Data["provider"])
	}

	owned, err := st.ListResultsBySearch(ctx, res.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(owned) != 3 {
		t.Fatalf("owned results = %d, want 3", len(owned))
	}
	for _, r := range owned {
		if r.State != models.StateUnprocessed {
			t.Fatalf("result %s state = %q, want unprocessed", r.ID, r.State)
		}
		if r.SearchID == nil || *r.SearchID != res.ID {
			t.Fatalf("result %s not owned by search", r.ID)
		}
	}
}

func TestRunFetch_DuplicateCandidateKeepsFirstOwner(t *testing.T) {
	shared := models.Candidate{Provider: "serp", DedupKey: "job-1", Raw: map[string]any{"title": "a"}}
	fetch := staticCandidates([]models.Candidate{shared}, models.Usage{Provider: "serp"}, nil)
	m, st, _, clock := newTestManager(t, fetch)
	ctx := context.Background()

	first, _ := m.FindOrCreate(ctx, jobParams())
	if err := m.RunFetch(ctx, first.ID); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	// A different search that surfaces the same candidate.
	*clock = clock.Add(time.Minute)
	other := jobParams()
	other["location"] = "Manchester"
	second, _ := m.FindOrCreate(ctx, other)
	if err := m.RunFetch(ctx, second.ID); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	s, _, _ := m.Get(ctx, second.ID)
	if s.Data["inserted"] != 0 || s.Data["duplicates"] != 1 {
		t.Fatalf("second data = %v, want duplicate counted", s.Data)
	}

	firstOwned, _ := st.ListResultsBySearch(ctx, first.ID)
	secondOwned, _ := st.ListResultsBySearch(ctx, second.ID)
	if len(firstOwned) != 1 || len(secondOwned) != 0 {
		t.Fatalf("ownership: first=%d second=%d, want 1/0", len(firstOwned), len(secondOwned))
	}
}

func TestRunFetch_FetchErrorFailsSearchWithoutPropagating(t *testing.T) {
	fetch := staticCandidates(nil, models.Usage{}, errors.New("both job providers failed"))
	m, _, _, _ := newTestManager(t, fetch)
	ctx := context.Background()

	res, _ := m.FindOrCreate(ctx, jobParams())
	if err := m.RunFetch(ctx, res.ID); err != nil {
		t.Fatalf("fetch error must not propagate, got %v", err)
	}

	s, _, _ := m.Get(ctx, res.ID)
	if s.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", s.Status)
	}
	if s.Error == nil || *s.Error != "both job providers failed" {
		t.Fatalf("error = %v", s.Error)
	}
}

func TestRunFetch_SkipsNonPendingSearch(t *testing.T) {
	calls := 0
	fetch := func(context.Context, map[string]any) ([]models.Candidate, models.Usage, error) {
		calls++
		return nil, models.Usage{Provider: "serp"}, nil
	}
	m, _, _, _ := newTestManager(t, fetch)
	ctx := context.Background()

	res, _ := m.FindOrCreate(ctx, jobParams())
	if err := m.RunFetch(ctx, res.ID); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if err := m.RunFetch(ctx, res.ID); err != nil {
		t.Fatalf("redelivered fetch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fetch ran %d times, want 1", calls)
	}
}

func TestRunFetch_ArchiveFailureDoesNotFailSearch(t *testing.T) {
	fetch := staticCandidates([]models.Candidate{
		{Provider: "serp", DedupKey: "job-1", Raw: map[string]any{"title": "a"}},
	}, models.Usage{Provider: "serp"}, nil)

	st := store.NewMemory()
	arch := &recordingArchiver{err: errors.New("bucket unreachable")}
	m := NewManager(testDomain(fetch), st, &recordingDispatcher{}, arch)
	ctx := context.Background()

	res, _ := m.FindOrCreate(ctx, jobParams())
	if err := m.RunFetch(ctx, res.ID); err != nil {
		t.Fatalf("run fetch: %v", err)
	}
	if arch.calls != 1 {
		t.Fatalf("archiver called %d times, want 1", arch.calls)
	}
	s, _, _ := m.Get(ctx, res.ID)
	if s.Status != models.StatusComplete {
		t.Fatalf("status = %q, want complete despite archive failure", s.Status)
	}
}

func TestGet_LazyExpiryReadsExpiredPendingAsFailed(t *testing.T) {
	m, _, _, clock := newTestManager(t, nil)
	ctx := context.Background()

	res, _ := m.FindOrCreate(ctx, jobParams())

	*clock = clock.Add(10 * time.Minute)

	s, found, err := m.Get(ctx, res.ID)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if s.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed via lazy expiry", s.Status)
	}
	if s.Error == nil {
		t.Fatal("lazy expiry did not set an error message")
	}
}

func TestNewRegistry_RoutesByDomain(t *testing.T) {
	st := store.NewMemory()
	jobs := NewManager(testDomain(nil), st, &recordingDispatcher{}, nil)
	research := NewManager(Domain{
		Name: models.DomainResearch, Staleness: 7 * 24 * time.Hour, KeyFields: []string{"company"},
	}, st, &recordingDispatcher{}, nil)

	r := NewRegistry(jobs, research)
	if r[models.DomainJobs] != jobs || r[models.DomainResearch] != research {
		t.Fatal("registry routing wrong")
	}
	if _, ok := r[models.DomainProfiles]; ok {
		t.Fatal("unexpected profiles manager")
	}
}
