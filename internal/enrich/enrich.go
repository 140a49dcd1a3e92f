// Package enrich turns raw provider payloads into structured records using a
// language-model capability with per-domain extraction schemas.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// enrichTimeout is the hard ceiling for one extraction. Exceeding it is a
// failure, not a partial success.
const enrichTimeout = 5 * time.Minute

// Provider sends a prompt to an LLM and returns a JSON string conforming to
// the supplied schema.
type Provider interface {
	Complete(ctx context.Context, prompt string, schemaName string, schema map[string]any) (string, error)
}

// Enricher runs schema-bound extraction for all three domains.
type Enricher struct {
	provider Provider
	timeout  time.Duration
}

func New(provider Provider) *Enricher {
	return &Enricher{provider: provider, timeout: enrichTimeout}
}

// Enrich extracts a structured record from a raw payload. The returned map
// carries every schema field: nullable fields are explicit nulls and list
// fields are empty slices rather than nil.
func (e *Enricher) Enrich(ctx context.Context, domain string, raw map[string]any) (map[string]any, error) {
	schema, ok := schemaFor(domain)
	if !ok {
		return nil, fmt.Errorf("no extraction schema for domain %q", domain)
	}

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal raw payload: %w", err)
	}
	prompt := fmt.Sprintf("%s\n\nSource record:\n%s", instructionsFor(domain), rawJSON)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.provider.Complete(ctx, prompt, domain+"_extraction", schema)
	if err != nil {
		return nil, fmt.Errorf("llm complete: %w", err)
	}

	var enriched map[string]any
	if err := json.Unmarshal([]byte(out), &enriched); err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}
	normalize(enriched, schema)
	return enriched, nil
}

// normalize fills absent schema properties with explicit nulls and replaces
// null list fields with empty slices.
func normalize(enriched map[string]any, schema map[string]any) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	for name, spec := range props {
		v, present := enriched[name]
		isArray := false
		if s, ok := spec.(map[string]any); ok {
			isArray = s["type"] == "array"
		}
		switch {
		case !present && isArray, present && v == nil && isArray:
			enriched[name] = []any{}
		case !present:
			enriched[name] = nil
		}
	}
}
