package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, visibility time.Duration) *FetchQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFetchQueue(client, visibility)
}

func TestFetchQueue_DispatchDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	if err := q.Dispatch(ctx, "search-1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := q.Dispatch(ctx, "search-2"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("depth = %d err=%v, want 2", depth, err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "search-1" {
		t.Fatalf("dequeue = %q err=%v, want search-1", id, err)
	}

	// Leased, not requeueable before the deadline.
	reclaimed, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil || len(reclaimed) != 0 {
		t.Fatalf("reclaimed %v err=%v, want none", reclaimed, err)
	}

	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	reclaimed, _ = q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if len(reclaimed) != 0 {
		t.Fatalf("acked search reclaimed: %v", reclaimed)
	}
}

func TestFetchQueue_EmptyDequeue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue on empty queue: %v", err)
	}
	if id != "" {
		t.Fatalf("dequeue = %q, want empty", id)
	}
}

func TestFetchQueue_RequeueExpired(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Millisecond)

	_ = q.Dispatch(ctx, "search-1")
	id, _ := q.DequeueWithLease(ctx)
	if id != "search-1" {
		t.Fatalf("dequeue = %q", id)
	}

	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != "search-1" {
		t.Fatalf("reclaimed = %v, want [search-1]", reclaimed)
	}

	id, _ = q.DequeueWithLease(ctx)
	if id != "search-1" {
		t.Fatalf("redelivery = %q, want search-1", id)
	}
}
