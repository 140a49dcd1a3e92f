package dispatch

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/arouf1/cs-api/internal/lifecycle"
	"github.com/arouf1/cs-api/internal/models"
	"github.com/arouf1/cs-api/internal/queue"
	"github.com/arouf1/cs-api/internal/store"
)

func newFixture(t *testing.T, fetch lifecycle.FetchFunc) (*Dispatcher, *store.Memory, *queue.FetchQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	q := queue.NewFetchQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	st := store.NewMemory()
	manager := lifecycle.NewManager(lifecycle.Domain{
		Name:      models.DomainJobs,
		Staleness: 24 * time.Hour,
		KeyFields: []string{"query"},
		Fetch:     fetch,
	}, st, q, nil)

	return New(q, st, lifecycle.NewRegistry(manager), time.Millisecond), st, q
}

func TestProcess_RunsFetchAndAcks(t *testing.T) {
	ctx := context.Background()
	fetch := func(context.Context, map[string]any) ([]models.Candidate, models.Usage, error) {
		return []models.Candidate{
			{Provider: "serp", DedupKey: "job-1", Raw: map[string]any{"title": "a"}},
		}, models.Usage{Provider: "serp"}, nil
	}
	d, st, q := newFixture(t, fetch)

	res, err := d.registry[models.DomainJobs].FindOrCreate(ctx, map[string]any{"query": "sre"})
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != res.ID {
		t.Fatalf("dequeue = %q err=%v, want %s", id, err, res.ID)
	}
	d.process(ctx, id)

	s, _, _ := st.GetSearch(ctx, res.ID)
	if s.Status != models.StatusComplete {
		t.Fatalf("status = %q, want complete", s.Status)
	}

	// Acked: the lease is gone, nothing to reclaim.
	reclaimed, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if len(reclaimed) != 0 {
		t.Fatalf("reclaimed %v, want none", reclaimed)
	}
}

func TestProcess_UnknownSearchIsAckedAndSkipped(t *testing.T) {
	ctx := context.Background()
	fetchCalled := false
	d, _, q := newFixture(t, func(context.Context, map[string]any) ([]models.Candidate, models.Usage, error) {
		fetchCalled = true
		return nil, models.Usage{}, nil
	})

	_ = q.Dispatch(ctx, "no-such-search")
	id, _ := q.DequeueWithLease(ctx)
	d.process(ctx, id)

	if fetchCalled {
		t.Fatal("fetch ran for a missing search")
	}
	reclaimed, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if len(reclaimed) != 0 {
		t.Fatalf("missing search left in flight: %v", reclaimed)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	d, _, _ := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
