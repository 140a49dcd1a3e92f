package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arouf1/cs-api/internal/models"
	"github.com/arouf1/cs-api/internal/telemetry"
)

// JobsParams are the inputs of one job search. Query, location, country code
// and result count together form the dedup key.
type JobsParams struct {
	Query       string `json:"query"`
	Location    string `json:"location"`
	CountryCode string `json:"country_code"`
	NumResults  int    `json:"num_results"`
}

// jobFetcher is one concrete job-listing provider.
type jobFetcher interface {
	Name() string
	Fetch(ctx context.Context, p JobsParams, loc Locale) ([]models.Candidate, float64, error)
}

// JobsGateway fetches job listings with provider fallback: any primary error
// (network, non-2xx, malformed payload) triggers the secondary provider, and
// both failing fails the fetch rather than returning a silent empty result.
type JobsGateway struct {
	primary   jobFetcher
	fallback  jobFetcher
	gazetteer *Gazetteer
}

func NewJobsGateway(primary, fallback jobFetcher, gazetteer *Gazetteer) *JobsGateway {
	return &JobsGateway{primary: primary, fallback: fallback, gazetteer: gazetteer}
}

// Fetch normalizes the location, applies localization, and queries the
// providers in order.
func (g *JobsGateway) Fetch(ctx context.Context, p JobsParams) ([]models.Candidate, models.Usage, error) {
	if g.gazetteer != nil && p.Location != "" {
		p.Location = g.gazetteer.Normalize(ctx, p.Location)
	}
	loc := LocaleFor(p.CountryCode)

	start := time.Now()
	candidates, cost, err := g.primary.Fetch(ctx, p, loc)
	if err == nil {
		return candidates, models.Usage{
			Provider:  g.primary.Name(),
			CostUSD:   cost,
			LatencyMS: time.Since(start).Milliseconds(),
		}, nil
	}
	log.Printf("[providers] %s failed (%v), falling back to %s", g.primary.Name(), err, g.fallback.Name())
	telemetry.ProviderFallbacks.Inc()

	candidates, cost, fbErr := g.fallback.Fetch(ctx, p, loc)
	if fbErr != nil {
		return nil, models.Usage{}, fmt.Errorf("both job providers failed: %s: %v; %s: %w",
			g.primary.Name(), err, g.fallback.Name(), fbErr)
	}
	return candidates, models.Usage{
		Provider:  g.fallback.Name(),
		CostUSD:   cost,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

// SerpJobsClient queries a SERP-style jobs API (Google Jobs results).
type SerpJobsClient struct {
	baseURL    string
	apiKey     string
	costPerReq float64
	httpClient *http.Client
}

func NewSerpJobsClient(baseURL, apiKey string, httpClient *http.Client) *SerpJobsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SerpJobsClient{baseURL: baseURL, apiKey: apiKey, costPerReq: 0.01, httpClient: httpClient}
}

func (c *SerpJobsClient) Name() string { return "serp" }

type serpJobsResponse struct {
	JobsResults []serpJob `json:"jobs_results"`
}

type serpJob struct {
	JobID       string `json:"job_id"`
	Title       string `json:"title"`
	CompanyName string `json:"company_name"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Via         string `json:"via"`
	ShareLink   string `json:"share_link"`
	Extensions  []string `json:"extensions"`
}

func (c *SerpJobsClient) Fetch(ctx context.Context, p JobsParams, loc Locale) ([]models.Candidate, float64, error) {
	params := url.Values{}
	params.Set("engine", "google_jobs")
	params.Set("api_key", c.apiKey)
	params.Set("q", p.Query)
	params.Set("hl", loc.Language)
	params.Set("gl", loc.SearchCountry)
	params.Set("google_domain", loc.SearchDomain)
	if p.Location != "" {
		params.Set("location", p.Location)
	}
	if p.NumResults > 0 {
		params.Set("num", strconv.Itoa(p.NumResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("serp returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed serpJobsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("json unmarshal: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(parsed.JobsResults))
	for _, j := range parsed.JobsResults {
		dedup := j.JobID
		if dedup == "" {
			dedup = j.ShareLink
		}
		if dedup == "" {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Provider: c.Name(),
			DedupKey: dedup,
			Raw: map[string]any{
				"title":       j.Title,
				"company":     j.CompanyName,
				"location":    j.Location,
				"description": j.Description,
				"via":         j.Via,
				"share_link":  j.ShareLink,
				"extensions":  j.Extensions,
			},
		})
	}
	return candidates, c.costPerReq, nil
}

// AdzunaJobsClient is the fallback job-listing provider.
type AdzunaJobsClient struct {
	baseURL    string
	appID      string
	appKey     string
	httpClient *http.Client
}

func NewAdzunaJobsClient(baseURL, appID, appKey string, httpClient *http.Client) *AdzunaJobsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AdzunaJobsClient{baseURL: baseURL, appID: appID, appKey: appKey, httpClient: httpClient}
}

func (c *AdzunaJobsClient) Name() string { return "adzuna" }

type adzunaResponse struct {
	Results []adzunaJob `json:"results"`
}

type adzunaJob struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	RedirectURL string  `json:"redirect_url"`
	SalaryMin   float64 `json:"salary_min"`
	SalaryMax   float64 `json:"salary_max"`
	Company     struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
}

func (c *AdzunaJobsClient) Fetch(ctx context.Context, p JobsParams, loc Locale) ([]models.Candidate, float64, error) {
	count := p.NumResults
	if count <= 0 {
		count = 20
	}
	params := url.Values{}
	params.Set("app_id", c.appID)
	params.Set("app_key", c.appKey)
	params.Set("what", p.Query)
	params.Set("results_per_page", strconv.Itoa(count))
	if p.Location != "" {
		params.Set("where", p.Location)
	}

	endpoint := fmt.Sprintf("%s/%s/search/1?%s", c.baseURL, loc.SearchCountry, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed adzunaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("json unmarshal: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(parsed.Results))
	for _, j := range parsed.Results {
		dedup := j.RedirectURL
		if dedup == "" {
			dedup = "adzuna:" + j.ID
		}
		candidates = append(candidates, models.Candidate{
			Provider: c.Name(),
			DedupKey: dedup,
			Raw: map[string]any{
				"title":       j.Title,
				"company":     j.Company.DisplayName,
				"location":    j.Location.DisplayName,
				"description": j.Description,
				"salary_min":  j.SalaryMin,
				"salary_max":  j.SalaryMax,
				"source_url":  j.RedirectURL,
			},
		})
	}
	return candidates, 0, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http POST: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(respBytes))
	}
	return respBytes, nil
}
