// Package embed turns text into fixed-length vectors for semantic retrieval
// and provides vector similarity helpers.
package embed

import (
	"context"
	"math"
	"strings"
)

// maxTextLen bounds the text sent to the embedding provider. Longer inputs
// are cut and marked so the truncation is visible downstream.
const (
	maxTextLen       = 8000
	truncationMarker = " [truncated]"
)

// Client produces embeddings. EmbedBatch returns vectors in input order.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// NormalizeText collapses whitespace and truncates to the provider limit.
func NormalizeText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxTextLen {
		text = text[:maxTextLen-len(truncationMarker)] + truncationMarker
	}
	return text
}

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Zero vectors and mismatched lengths yield 0 rather than an error.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
