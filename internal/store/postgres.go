package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arouf1/cs-api/internal/models"
)

// Postgres wraps pgxpool for persistence of searches and results.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const searchColumns = `id, domain, dedup_key, params, status, data, error, expires_at, created_at, updated_at`

// CreateSearch inserts a pending search row.
func (s *Postgres) CreateSearch(ctx context.Context, p CreateSearchParams) (models.Search, error) {
	paramsJSON, err := json.Marshal(p.Params)
	if err != nil {
		return models.Search{}, fmt.Errorf("marshal params: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO searches (id, domain, dedup_key, params, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, p.Domain, p.DedupKey, paramsJSON, models.StatusPending, p.ExpiresAt, now)
	if err != nil {
		return models.Search{}, fmt.Errorf("insert search: %w", err)
	}

	expires := p.ExpiresAt
	return models.Search{
		ID:        id,
		Domain:    p.Domain,
		DedupKey:  p.DedupKey,
		Params:    p.Params,
		Status:    models.StatusPending,
		ExpiresAt: &expires,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetSearch fetches a search by id.
func (s *Postgres) GetSearch(ctx context.Context, id string) (models.Search, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+searchColumns+` FROM searches WHERE id = $1`, id)
	search, err := scanSearch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Search{}, false, nil
	}
	if err != nil {
		return models.Search{}, false, err
	}
	return search, true, nil
}

// LatestSearchByKey returns the newest search for a (domain, dedup key) pair.
func (s *Postgres) LatestSearchByKey(ctx context.Context, domain, dedupKey string) (models.Search, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+searchColumns+` FROM searches
		WHERE domain = $1 AND dedup_key = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, domain, dedupKey)
	search, err := scanSearch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Search{}, false, nil
	}
	if err != nil {
		return models.Search{}, false, err
	}
	return search, true, nil
}

// CompleteSearch transitions a pending search to complete.
func (s *Postgres) CompleteSearch(ctx context.Context, id string, data map[string]any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal search data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE searches
		SET status = $2, data = $3, error = NULL, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusComplete, dataJSON, models.StatusPending)
	return err
}

// FailSearch transitions a pending search to failed.
func (s *Postgres) FailSearch(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE searches
		SET status = $2, error = $3, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusFailed, errMsg, models.StatusPending)
	return err
}

// ExpirePendingSearches hard-fails pending rows past their window.
func (s *Postgres) ExpirePendingSearches(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE searches
		SET status = $1, error = 'search expired before completing', expires_at = NULL, updated_at = NOW()
		WHERE status = $2 AND expires_at < $3
	`, models.StatusFailed, models.StatusPending, now)
	if err != nil {
		return 0, fmt.Errorf("expire pending searches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const resultColumns = `id, search_id, domain, provider, dedup_key, raw, enriched, state, processing_error, embeddings, created_at, updated_at`

// InsertResult persists a raw candidate, reusing any existing row with the
// same (provider, dedup key).
func (s *Postgres) InsertResult(ctx context.Context, searchID *string, domain string, c models.Candidate) (string, bool, error) {
	rawJSON, err := json.Marshal(c.Raw)
	if err != nil {
		return "", false, fmt.Errorf("marshal raw payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO results (id, search_id, domain, provider, dedup_key, raw, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (provider, dedup_key) DO NOTHING
	`, id, searchID, domain, c.Provider, c.DedupKey, rawJSON, models.StateUnprocessed, now)
	if err != nil {
		return "", false, fmt.Errorf("insert result: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return id, true, nil
	}

	// Another search already discovered this item; return the existing row.
	var existingID string
	err = s.pool.QueryRow(ctx, `
		SELECT id FROM results WHERE provider = $1 AND dedup_key = $2
	`, c.Provider, c.DedupKey).Scan(&existingID)
	if err != nil {
		return "", false, fmt.Errorf("lookup existing result: %w", err)
	}
	return existingID, false, nil
}

// GetResult fetches a result by id.
func (s *Postgres) GetResult(ctx context.Context, id string) (models.Result, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM results WHERE id = $1`, id)
	res, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Result{}, false, nil
	}
	if err != nil {
		return models.Result{}, false, err
	}
	return res, true, nil
}

// ListResultsBySearch returns the results owned by a search, oldest-first.
func (s *Postgres) ListResultsBySearch(ctx context.Context, searchID string) ([]models.Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+resultColumns+` FROM results WHERE search_id = $1 ORDER BY created_at
	`, searchID)
	if err != nil {
		return nil, fmt.Errorf("query results by search: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// SelectUnprocessed returns a bounded oldest-first batch of unprocessed rows.
func (s *Postgres) SelectUnprocessed(ctx context.Context, domain string, limit int) ([]models.Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+resultColumns+` FROM results
		WHERE domain = $1 AND state = $2
		ORDER BY created_at
		LIMIT $3
	`, domain, models.StateUnprocessed, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// MarkResultProcessing claims a row for enrichment. The state guard makes
// the claim conditional so two scheduler ticks cannot both win the same row.
func (s *Postgres) MarkResultProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE results SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3
	`, id, models.StateProcessing, models.StateUnprocessed)
	if err != nil {
		return false, fmt.Errorf("mark result processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteResult stores the enriched payload and embeddings.
func (s *Postgres) CompleteResult(ctx context.Context, id string, enriched map[string]any, embeddings map[string][]float32) error {
	enrichedJSON, err := json.Marshal(enriched)
	if err != nil {
		return fmt.Errorf("marshal enriched payload: %w", err)
	}
	embJSON, err := json.Marshal(embeddings)
	if err != nil {
		return fmt.Errorf("marshal embeddings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE results
		SET enriched = $2, embeddings = $3, state = $4, processing_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, enrichedJSON, embJSON, models.StateProcessed)
	return err
}

// FailResult rolls a row back to unprocessed for retry.
func (s *Postgres) FailResult(ctx context.Context, id string, procErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE results SET state = $2, processing_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.StateUnprocessed, procErr)
	return err
}

// MarkResultUnprocessed resets a row for reprocessing.
func (s *Postgres) MarkResultUnprocessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE results SET state = $2, updated_at = NOW() WHERE id = $1
	`, id, models.StateUnprocessed)
	return err
}

// SelectStaleProcessed returns processed rows not touched since cutoff.
func (s *Postgres) SelectStaleProcessed(ctx context.Context, domain string, cutoff time.Time, limit int) ([]models.Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+resultColumns+` FROM results
		WHERE domain = $1 AND state = $2 AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
	`, domain, models.StateProcessed, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// CountResultsBySearch returns total and processed counts for a search.
func (s *Postgres) CountResultsBySearch(ctx context.Context, searchID string) (int, int, error) {
	var total, processed int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE state = $2)
		FROM results WHERE search_id = $1
	`, searchID, models.StateProcessed).Scan(&total, &processed)
	if err != nil {
		return 0, 0, fmt.Errorf("count results: %w", err)
	}
	return total, processed, nil
}

func scanSearch(row pgx.Row) (models.Search, error) {
	var (
		search     models.Search
		paramsJSON []byte
		dataJSON   []byte
		errText    pgtype.Text
		expiresAt  pgtype.Timestamptz
	)
	if err := row.Scan(&search.ID, &search.Domain, &search.DedupKey, &paramsJSON, &search.Status,
		&dataJSON, &errText, &expiresAt, &search.CreatedAt, &search.UpdatedAt); err != nil {
		return models.Search{}, err
	}
	if err := json.Unmarshal(paramsJSON, &search.Params); err != nil {
		return models.Search{}, fmt.Errorf("unmarshal search params: %w", err)
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &search.Data); err != nil {
			return models.Search{}, fmt.Errorf("unmarshal search data: %w", err)
		}
	}
	search.Error = textPtr(errText)
	if expiresAt.Valid {
		t := expiresAt.Time
		search.ExpiresAt = &t
	}
	return search, nil
}

func scanResult(row pgx.Row) (models.Result, error) {
	var (
		res          models.Result
		searchID     pgtype.Text
		rawJSON      []byte
		enrichedJSON []byte
		procErr      pgtype.Text
		embJSON      []byte
	)
	if err := row.Scan(&res.ID, &searchID, &res.Domain, &res.Provider, &res.DedupKey, &rawJSON,
		&enrichedJSON, &res.State, &procErr, &embJSON, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return models.Result{}, err
	}
	if err := json.Unmarshal(rawJSON, &res.Raw); err != nil {
		return models.Result{}, fmt.Errorf("unmarshal raw payload: %w", err)
	}
	if len(enrichedJSON) > 0 {
		if err := json.Unmarshal(enrichedJSON, &res.Enriched); err != nil {
			return models.Result{}, fmt.Errorf("unmarshal enriched payload: %w", err)
		}
	}
	if len(embJSON) > 0 {
		if err := json.Unmarshal(embJSON, &res.Embeddings); err != nil {
			return models.Result{}, fmt.Errorf("unmarshal embeddings: %w", err)
		}
	}
	res.SearchID = textPtr(searchID)
	res.ProcessingError = textPtr(procErr)
	return res, nil
}

func collectResults(rows pgx.Rows) ([]models.Result, error) {
	var out []models.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
