package store

import (
	"context"
	"time"

	"github.com/arouf1/cs-api/internal/models"
)

// CreateSearchParams collects inputs required to insert a pending search.
type CreateSearchParams struct {
	Domain    string
	DedupKey  string
	Params    map[string]any
	ExpiresAt time.Time
}

// Store is the typed persistence contract shared by the lifecycle manager,
// the dispatcher, and the enrichment scheduler. Implementations: Postgres
// for production, Memory for tests.
type Store interface {
	// CreateSearch inserts a pending search row and returns it with its
	// assigned ID and timestamps.
	CreateSearch(ctx context.Context, p CreateSearchParams) (models.Search, error)
	// GetSearch fetches a search by ID. The bool is false when absent.
	GetSearch(ctx context.Context, id string) (models.Search, bool, error)
	// LatestSearchByKey returns the most recently created search for a
	// (domain, dedup key) pair.
	LatestSearchByKey(ctx context.Context, domain, dedupKey string) (models.Search, bool, error)
	// CompleteSearch transitions a pending search to complete with its
	// summary payload and clears expires_at.
	CompleteSearch(ctx context.Context, id string, data map[string]any) error
	// FailSearch transitions a pending search to failed with an error
	// message and clears expires_at.
	FailSearch(ctx context.Context, id string, errMsg string) error
	// ExpirePendingSearches flips pending searches whose expires_at has
	// passed to failed. Best-effort housekeeping: the read path treats
	// expired-but-still-pending rows as failed regardless.
	ExpirePendingSearches(ctx context.Context, now time.Time) (int, error)

	// InsertResult persists a raw candidate. When a row with the same
	// (provider, dedup key) already exists it is reused: the existing ID is
	// returned with isNew=false and nothing is written.
	InsertResult(ctx context.Context, searchID *string, domain string, c models.Candidate) (id string, isNew bool, err error)
	// GetResult fetches a result by ID.
	GetResult(ctx context.Context, id string) (models.Result, bool, error)
	// ListResultsBySearch returns all results owned by a search,
	// oldest-first.
	ListResultsBySearch(ctx context.Context, searchID string) ([]models.Result, error)
	// SelectUnprocessed returns up to limit unprocessed results for a
	// domain, oldest-first.
	SelectUnprocessed(ctx context.Context, domain string, limit int) ([]models.Result, error)
	// MarkResultProcessing advances a result to processing only if it is
	// still unprocessed. Returns false when a concurrent tick won the row.
	MarkResultProcessing(ctx context.Context, id string) (bool, error)
	// CompleteResult stores the enriched payload and embeddings and marks
	// the result processed, clearing any previous processing error.
	CompleteResult(ctx context.Context, id string, enriched map[string]any, embeddings map[string][]float32) error
	// FailResult rolls a result back to unprocessed with the error recorded,
	// making it eligible for the next batch.
	FailResult(ctx context.Context, id string, procErr string) error
	// MarkResultUnprocessed resets a result for reprocessing (staleness
	// refresh path).
	MarkResultUnprocessed(ctx context.Context, id string) error
	// SelectStaleProcessed returns up to limit processed results whose
	// updated_at is older than cutoff, oldest-first.
	SelectStaleProcessed(ctx context.Context, domain string, cutoff time.Time, limit int) ([]models.Result, error)
	// CountResultsBySearch returns total and processed counts for the poll
	// surface.
	CountResultsBySearch(ctx context.Context, searchID string) (total int, processed int, err error)
}
