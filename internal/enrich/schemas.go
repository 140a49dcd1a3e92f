package enrich

import (
	"fmt"
	"strings"

	"github.com/arouf1/cs-api/internal/models"
)

// Extraction schemas enforced server-side via structured outputs. Each
// schema matches the enriched payload shape exactly so the response can be
// stored without reshaping.

var jobSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"title":            map[string]any{"type": "string"},
		"company":          map[string]any{"type": "string"},
		"location":         map[string]any{"type": []string{"string", "null"}},
		"remote":           map[string]any{"type": []string{"boolean", "null"}},
		"employment_type":  map[string]any{"type": []string{"string", "null"}},
		"salary_min":       map[string]any{"type": []string{"number", "null"}},
		"salary_max":       map[string]any{"type": []string{"number", "null"}},
		"salary_currency":  map[string]any{"type": []string{"string", "null"}},
		"description":      map[string]any{"type": "string"},
		"requirements":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"responsibilities": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"skills":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"benefits":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"apply_url":        map[string]any{"type": []string{"string", "null"}},
		"posted_at":        map[string]any{"type": []string{"string", "null"}},
	},
	"required": []string{"title", "company", "description"},
}

var profileSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"name":             map[string]any{"type": "string"},
		"headline":         map[string]any{"type": []string{"string", "null"}},
		"current_position": map[string]any{"type": []string{"string", "null"}},
		"current_company":  map[string]any{"type": []string{"string", "null"}},
		"location":         map[string]any{"type": []string{"string", "null"}},
		"summary":          map[string]any{"type": []string{"string", "null"}},
		"skills":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"experience":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"education":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"profile_url":      map[string]any{"type": []string{"string", "null"}},
	},
	"required": []string{"name"},
}

var researchSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"section":     map[string]any{"type": "string"},
		"summary":     map[string]any{"type": "string"},
		"key_points":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"sources":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"confidence":  map[string]any{"type": []string{"string", "null"}},
		"last_funded": map[string]any{"type": []string{"string", "null"}},
	},
	"required": []string{"section", "summary"},
}

func schemaFor(domain string) (map[string]any, bool) {
	switch domain {
	case models.DomainJobs:
		return jobSchema, true
	case models.DomainProfiles:
		return profileSchema, true
	case models.DomainResearch:
		return researchSchema, true
	}
	return nil, false
}

func instructionsFor(domain string) string {
	switch domain {
	case models.DomainJobs:
		return "Extract the job posting below into the provided schema. " +
			"Use null for fields the posting does not state. Do not invent salary figures."
	case models.DomainProfiles:
		return "Extract the professional profile below into the provided schema. " +
			"Keep experience and education entries as short single-line strings."
	case models.DomainResearch:
		return "Condense the research answer below into the provided schema. " +
			"key_points should be standalone factual statements; sources are URLs cited in the answer."
	}
	return ""
}

// Views builds the independently-embedded text views for an enriched record.
// Each view is a separately constructed text, not a slice of one string.
func Views(domain string, enriched map[string]any) map[string]string {
	str := func(key string) string {
		if v, ok := enriched[key].(string); ok {
			return v
		}
		return ""
	}
	list := func(key string) string {
		items, ok := enriched[key].([]any)
		if !ok {
			return ""
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}

	switch domain {
	case models.DomainJobs:
		title := fmt.Sprintf("%s at %s", str("title"), str("company"))
		return map[string]string{
			"title":       title,
			"description": str("description"),
			"combined":    title + ". " + str("description") + " Skills: " + list("skills"),
		}
	case models.DomainProfiles:
		headline := strings.TrimSpace(str("name") + " " + str("headline"))
		return map[string]string{
			"headline": headline,
			"summary":  str("summary"),
			"combined": headline + ". " + str("summary") + " Skills: " + list("skills"),
		}
	case models.DomainResearch:
		return map[string]string{
			"summary":  str("summary"),
			"combined": str("section") + ". " + str("summary") + " " + list("key_points"),
		}
	}
	return nil
}
