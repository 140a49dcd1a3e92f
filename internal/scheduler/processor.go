// Package scheduler advances raw results to enriched, embedded records in
// periodic batches, decoupled from the request path that discovered them.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/arouf1/cs-api/internal/embed"
	"github.com/arouf1/cs-api/internal/enrich"
	"github.com/arouf1/cs-api/internal/models"
	"github.com/arouf1/cs-api/internal/store"
	"github.com/arouf1/cs-api/internal/telemetry"
)

// maxInFlight bounds concurrent enrichment calls within one batch.
const maxInFlight = 4

// Processor runs enrichment batches for one store.
type Processor struct {
	store    store.Store
	enricher *enrich.Enricher
	embedder embed.Client
}

func NewProcessor(st store.Store, enricher *enrich.Enricher, embedder embed.Client) *Processor {
	return &Processor{store: st, enricher: enricher, embedder: embedder}
}

// BatchSummary reports what one RunBatch call did.
type BatchSummary struct {
	Domain    string `json:"domain"`
	Selected  int    `json:"selected"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// RunBatch selects up to size unprocessed results oldest-first and enriches
// them. An empty selection is a safe no-op. Each row is claimed with a
// conditional state write before enrichment so a concurrent tick cannot
// pick it up twice.
func (p *Processor) RunBatch(ctx context.Context, domain string, size int) (BatchSummary, error) {
	summary := BatchSummary{Domain: domain}

	selected, err := p.store.SelectUnprocessed(ctx, domain, size)
	if err != nil {
		return summary, err
	}
	summary.Selected = len(selected)
	if len(selected) == 0 {
		return summary, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, maxInFlight)
	)
	for _, r := range selected {
		claimed, err := p.store.MarkResultProcessing(ctx, r.ID)
		if err != nil {
			log.Printf("[scheduler:%s] claim %s: %v", domain, r.ID, err)
			continue
		}
		if !claimed {
			// Lost the row to a concurrent tick.
			summary.Skipped++
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(r models.Result) {
			defer wg.Done()
			defer func() { <-sem }()

			err := p.processOne(ctx, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
			} else {
				summary.Processed++
			}
		}(r)
	}
	wg.Wait()

	log.Printf("[scheduler:%s] batch done: selected=%d processed=%d failed=%d skipped=%d",
		domain, summary.Selected, summary.Processed, summary.Failed, summary.Skipped)
	return summary, nil
}

// processOne enriches and embeds a single claimed result. Any failure rolls
// the row back to unprocessed with the error recorded, making it eligible
// for the next batch.
func (p *Processor) processOne(ctx context.Context, r models.Result) error {
	enriched, err := p.enricher.Enrich(ctx, r.Domain, r.Raw)
	if err != nil {
		telemetry.EnrichFailures.WithLabelValues(r.Domain).Inc()
		if failErr := p.store.FailResult(ctx, r.ID, err.Error()); failErr != nil {
			log.Printf("[scheduler:%s] rollback %s: %v", r.Domain, r.ID, failErr)
		}
		return err
	}

	embeddings, err := p.embedViews(ctx, r.Domain, enriched)
	if err != nil {
		telemetry.EnrichFailures.WithLabelValues(r.Domain).Inc()
		if failErr := p.store.FailResult(ctx, r.ID, err.Error()); failErr != nil {
			log.Printf("[scheduler:%s] rollback %s: %v", r.Domain, r.ID, failErr)
		}
		return err
	}

	if err := p.store.CompleteResult(ctx, r.ID, enriched, embeddings); err != nil {
		log.Printf("[scheduler:%s] complete %s: %v", r.Domain, r.ID, err)
		return err
	}
	telemetry.EnrichSuccesses.WithLabelValues(r.Domain).Inc()
	return nil
}

// embedViews embeds each named text view independently, batching the
// provider call. View names are sorted so the batch order is deterministic.
func (p *Processor) embedViews(ctx context.Context, domain string, enriched map[string]any) (map[string][]float32, error) {
	views := enrich.Views(domain, enriched)
	if len(views) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)

	texts := make([]string, len(names))
	for i, name := range names {
		texts[i] = views[name]
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	embeddings := make(map[string][]float32, len(names))
	for i, name := range names {
		embeddings[name] = vectors[i]
	}
	return embeddings, nil
}

// RefreshStale resets processed results whose updated_at is older than
// maxAge back to unprocessed, so the regular batch re-enriches them. This is
// the only path that reprocesses an already-processed record.
func (p *Processor) RefreshStale(ctx context.Context, domain string, maxAge time.Duration, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := p.store.SelectStaleProcessed(ctx, domain, cutoff, limit)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, r := range stale {
		if err := p.store.MarkResultUnprocessed(ctx, r.ID); err != nil {
			log.Printf("[scheduler:%s] refresh %s: %v", domain, r.ID, err)
			continue
		}
		reset++
	}
	if reset > 0 {
		log.Printf("[scheduler:%s] staleness refresh reset %d results", domain, reset)
	}
	return reset, nil
}
