package models

import "time"

// Result processing states. State only advances
// unprocessed -> processing -> processed; an enrichment failure rolls the row
// back to unprocessed so the next batch retries it.
const (
	StateUnprocessed = "unprocessed"
	StateProcessing  = "processing"
	StateProcessed   = "processed"
)

// Result is one discovered item (job posting, profile, or research
// sub-answer). Its enrichment lifecycle is driven by the batch scheduler,
// independent of the owning search's status.
type Result struct {
	ID              string               `json:"id"`
	SearchID        *string              `json:"search_id,omitempty"`
	Domain          string               `json:"domain"`
	Provider        string               `json:"provider"`
	DedupKey        string               `json:"dedup_key"`
	Raw             map[string]any       `json:"raw"`
	Enriched        map[string]any       `json:"enriched,omitempty"`
	State           string               `json:"state"`
	ProcessingError *string              `json:"processing_error,omitempty"`
	Embeddings      map[string][]float32 `json:"embeddings,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Candidate is a raw item returned by a provider fetch, before persistence.
// DedupKey is provider-scoped (a source URL or provider-assigned ID) and
// prevents storing the same underlying item twice across searches.
type Candidate struct {
	Provider string
	DedupKey string
	Raw      map[string]any
}

// Usage is the telemetry record a provider fetch returns alongside its
// candidates.
type Usage struct {
	Provider  string  `json:"provider"`
	CostUSD   float64 `json:"cost_usd"`
	LatencyMS int64   `json:"latency_ms"`
}
