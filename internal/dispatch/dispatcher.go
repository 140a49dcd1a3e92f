// Package dispatch drives the background fetch loop: it consumes search IDs
// from the fetch queue and runs each domain's provider fetch to completion.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/arouf1/cs-api/internal/lifecycle"
	"github.com/arouf1/cs-api/internal/queue"
	"github.com/arouf1/cs-api/internal/store"
	"github.com/arouf1/cs-api/internal/telemetry"
)

// Dispatcher polls the fetch queue and routes searches to their domain
// manager. There is no retry ladder here: a failed fetch is a terminal
// failed search, and recovery is a fresh search via staleness or expiry.
type Dispatcher struct {
	queue        *queue.FetchQueue
	store        store.Store
	registry     lifecycle.Registry
	pollInterval time.Duration
}

func New(q *queue.FetchQueue, st store.Store, registry lifecycle.Registry, pollInterval time.Duration) *Dispatcher {
	if pollInterval == 0 {
		pollInterval = time.Second
	}
	return &Dispatcher{queue: q, store: st, registry: registry, pollInterval: pollInterval}
}

// Run loops until context cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := d.queue.RequeueExpired(ctx, time.Now(), 100); err != nil {
			log.Printf("[dispatch] requeue expired: %v", err)
		} else if len(reclaimed) > 0 {
			log.Printf("[dispatch] reclaimed %d timed-out fetches", len(reclaimed))
		}
		if depth, err := d.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		searchID, err := d.queue.DequeueWithLease(ctx)
		if err != nil {
			log.Printf("[dispatch] dequeue: %v", err)
			sleep(ctx, d.pollInterval)
			continue
		}
		if searchID == "" {
			sleep(ctx, d.pollInterval)
			continue
		}

		d.process(ctx, searchID)
	}
}

// process runs one search fetch and always acks: RunFetch converts provider
// failures into failed searches, so redelivery would only duplicate work.
func (d *Dispatcher) process(ctx context.Context, searchID string) {
	defer func() {
		if err := d.queue.Ack(ctx, searchID); err != nil {
			log.Printf("[dispatch] ack %s: %v", searchID, err)
		}
	}()

	search, found, err := d.store.GetSearch(ctx, searchID)
	if err != nil {
		log.Printf("[dispatch] load %s: %v", searchID, err)
		return
	}
	if !found {
		log.Printf("[dispatch] search %s not found in store", searchID)
		return
	}

	manager, ok := d.registry[search.Domain]
	if !ok {
		log.Printf("[dispatch] no manager for domain %q (search %s)", search.Domain, searchID)
		return
	}
	if err := manager.RunFetch(ctx, searchID); err != nil {
		// Store-level failure; the search ages out through expiry.
		log.Printf("[dispatch] fetch %s: %v", searchID, err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
