package providers

import (
	"context"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/arouf1/cs-api/internal/cache"
)

// Gazetteer normalizes free-text location input to a canonical place name.
// No match means the original text is used as-is; a search never fails on an
// unrecognized location.
type Gazetteer struct {
	entries []gazetteerEntry
	cache   cache.Cache
	ttl     time.Duration
}

type gazetteerEntry struct {
	Name       string
	Canonical  string
	Population int
}

// fuzzyThreshold is the minimum edit-distance similarity counted as a match.
const fuzzyThreshold = 0.6

const gazetteerCacheTTL = 24 * time.Hour

// NewGazetteer builds a gazetteer over the embedded city table. The cache is
// injected so tests can control state between runs.
func NewGazetteer(c cache.Cache) *Gazetteer {
	return &Gazetteer{entries: cities, cache: c, ttl: gazetteerCacheTTL}
}

// Normalize resolves input to its best-scoring canonical place name. The
// result is cached under the lowercased input.
func (g *Gazetteer) Normalize(ctx context.Context, input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return input
	}
	key := strings.ToLower(trimmed)

	if g.cache != nil {
		if v, ok, err := g.cache.Get(ctx, key); err == nil && ok {
			return v
		}
	}

	best := trimmed
	bestScore := 0.0
	for _, e := range g.entries {
		score := matchScore(key, e)
		if score > bestScore {
			bestScore = score
			best = e.Canonical
		}
	}
	if bestScore == 0 {
		best = trimmed
	}

	if g.cache != nil {
		_ = g.cache.Put(ctx, key, best, g.ttl)
	}
	return best
}

// matchScore implements the lookup scoring: exact name match is 1.0, a
// substring match scores proportionally to the overlap length, and edit
// distance similarity above the threshold counts as fuzzy. Larger
// populations get a small boost so major cities win ties.
func matchScore(input string, e gazetteerEntry) float64 {
	name := strings.ToLower(e.Name)
	canonical := strings.ToLower(e.Canonical)

	var score float64
	switch {
	case input == name:
		score = 1.0
	case strings.Contains(name, input) || strings.Contains(input, name):
		score = overlapRatio(input, name)
	case strings.Contains(canonical, input):
		score = overlapRatio(input, canonical)
	default:
		if sim := similarity(input, name); sim > fuzzyThreshold {
			score = sim
		}
	}
	if score == 0 {
		return 0
	}
	return score + populationBoost(e.Population)
}

func overlapRatio(a, b string) float64 {
	shorter, longer := len(a), len(b)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	if longer == 0 {
		return 0
	}
	return float64(shorter) / float64(longer)
}

func similarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func populationBoost(population int) float64 {
	const maxPopulation = 20_000_000
	if population > maxPopulation {
		population = maxPopulation
	}
	return 0.05 * float64(population) / float64(maxPopulation)
}

// cities is a compact embedded gazetteer of business-relevant cities. It is
// deliberately small; misses fall through to the raw input text.
var cities = []gazetteerEntry{
	{"london", "London, United Kingdom", 9_500_000},
	{"manchester", "Manchester, United Kingdom", 2_800_000},
	{"birmingham", "Birmingham, United Kingdom", 2_600_000},
	{"edinburgh", "Edinburgh, United Kingdom", 540_000},
	{"dublin", "Dublin, Ireland", 1_200_000},
	{"new york", "New York, NY, United States", 8_300_000},
	{"san francisco", "San Francisco, CA, United States", 870_000},
	{"los angeles", "Los Angeles, CA, United States", 3_900_000},
	{"chicago", "Chicago, IL, United States", 2_700_000},
	{"seattle", "Seattle, WA, United States", 740_000},
	{"austin", "Austin, TX, United States", 960_000},
	{"boston", "Boston, MA, United States", 650_000},
	{"toronto", "Toronto, Canada", 2_900_000},
	{"vancouver", "Vancouver, Canada", 680_000},
	{"berlin", "Berlin, Germany", 3_600_000},
	{"munich", "Munich, Germany", 1_500_000},
	{"hamburg", "Hamburg, Germany", 1_800_000},
	{"frankfurt", "Frankfurt, Germany", 760_000},
	{"paris", "Paris, France", 2_100_000},
	{"amsterdam", "Amsterdam, Netherlands", 870_000},
	{"madrid", "Madrid, Spain", 3_300_000},
	{"barcelona", "Barcelona, Spain", 1_600_000},
	{"lisbon", "Lisbon, Portugal", 550_000},
	{"milan", "Milan, Italy", 1_400_000},
	{"zurich", "Zurich, Switzerland", 430_000},
	{"stockholm", "Stockholm, Sweden", 980_000},
	{"warsaw", "Warsaw, Poland", 1_800_000},
	{"sydney", "Sydney, Australia", 5_300_000},
	{"melbourne", "Melbourne, Australia", 5_100_000},
	{"singapore", "Singapore, Singapore", 5_900_000},
	{"dubai", "Dubai, United Arab Emirates", 3_500_000},
	{"bangalore", "Bangalore, India", 13_000_000},
	{"mumbai", "Mumbai, India", 20_000_000},
	{"tokyo", "Tokyo, Japan", 14_000_000},
	{"sao paulo", "São Paulo, Brazil", 12_300_000},
	{"mexico city", "Mexico City, Mexico", 9_200_000},
}
