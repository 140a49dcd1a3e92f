package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arouf1/cs-api/internal/models"
)

// ProfilesParams are the inputs of one professional-profile search.
type ProfilesParams struct {
	JobTitle     string `json:"job_title"`
	UserLocation string `json:"user_location"`
	NumResults   int    `json:"num_results"`
}

// ProfilesGateway queries a neural search API for professional profiles.
type ProfilesGateway struct {
	baseURL       string
	apiKey        string
	costPerResult float64
	gazetteer     *Gazetteer
	httpClient    *http.Client
}

func NewProfilesGateway(baseURL, apiKey string, gazetteer *Gazetteer, httpClient *http.Client) *ProfilesGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProfilesGateway{
		baseURL:       baseURL,
		apiKey:        apiKey,
		costPerResult: 0.0025,
		gazetteer:     gazetteer,
		httpClient:    httpClient,
	}
}

type neuralSearchRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Category   string `json:"category"`
	Contents   struct {
		Text bool `json:"text"`
	} `json:"contents"`
}

type neuralSearchResponse struct {
	Results []struct {
		URL           string  `json:"url"`
		Title         string  `json:"title"`
		Author        string  `json:"author"`
		Text          string  `json:"text"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"publishedDate"`
	} `json:"results"`
}

// Fetch searches for profiles matching the job title near the user location.
// The result URL is the provider-scoped dedup identity.
func (g *ProfilesGateway) Fetch(ctx context.Context, p ProfilesParams) ([]models.Candidate, models.Usage, error) {
	location := p.UserLocation
	if g.gazetteer != nil && location != "" {
		location = g.gazetteer.Normalize(ctx, location)
	}
	count := p.NumResults
	if count <= 0 {
		count = 10
	}

	query := p.JobTitle
	if location != "" {
		query = fmt.Sprintf("%s based in %s", p.JobTitle, location)
	}
	reqBody := neuralSearchRequest{Query: query, NumResults: count, Category: "linkedin profile"}
	reqBody.Contents.Text = true

	start := time.Now()
	respBytes, err := postJSON(ctx, g.httpClient, g.baseURL+"/search", map[string]string{"x-api-key": g.apiKey}, reqBody)
	if err != nil {
		return nil, models.Usage{}, fmt.Errorf("neural search: %w", err)
	}

	var parsed neuralSearchResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, models.Usage{}, fmt.Errorf("parse neural search response: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Provider: "neural-search",
			DedupKey: r.URL,
			Raw: map[string]any{
				"url":            r.URL,
				"title":          r.Title,
				"author":         r.Author,
				"text":           r.Text,
				"score":          r.Score,
				"published_date": r.PublishedDate,
				"query":          query,
			},
		})
	}

	return candidates, models.Usage{
		Provider:  "neural-search",
		CostUSD:   g.costPerResult * float64(len(candidates)),
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}
