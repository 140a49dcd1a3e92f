package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/arouf1/cs-api/internal/models"
)

// ResearchParams are the inputs of one company research request.
type ResearchParams struct {
	Company  string `json:"company"`
	Position string `json:"position"`
	Location string `json:"location"`
	Type     string `json:"type"`
}

// researchSections is the fixed question set fanned out per research request.
// Each answered section becomes one raw candidate record.
var researchSections = []struct {
	Name     string
	Question string
}{
	{"overview", "Give an overview of {company}: what it does, size, headquarters, and market position."},
	{"products", "What are the main products or services of {company} and who are its customers?"},
	{"funding", "Summarize the funding history and financial health of {company}."},
	{"culture", "What is known about the engineering culture and working environment at {company}?"},
	{"interview", "What is the interview process like at {company}, especially for a {position} role?"},
	{"news", "What notable news about {company} was published in the last six months?"},
}

// ResearchGateway answers the research question set through an answer-engine
// API (an online LLM with web access).
type ResearchGateway struct {
	baseURL       string
	apiKey        string
	model         string
	costPerQuery  float64
	httpClient    *http.Client
}

func NewResearchGateway(baseURL, apiKey, model string, httpClient *http.Client) *ResearchGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &ResearchGateway{
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		costPerQuery: 0.005,
		httpClient:   httpClient,
	}
}

type answerRequest struct {
	Model    string          `json:"model"`
	Messages []answerMessage `json:"messages"`
}

type answerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type answerResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Fetch runs the question set concurrently, one answer-engine call per
// section. A section that errors is skipped; the fetch fails only when every
// section fails.
func (g *ResearchGateway) Fetch(ctx context.Context, p ResearchParams) ([]models.Candidate, models.Usage, error) {
	position := p.Position
	if position == "" {
		position = "software engineering"
	}

	start := time.Now()
	var (
		mu         sync.Mutex
		candidates []models.Candidate
		errs       []string
		wg         sync.WaitGroup
	)

	for _, section := range researchSections {
		wg.Add(1)
		go func(name, questionTmpl string) {
			defer wg.Done()
			question := strings.NewReplacer("{company}", p.Company, "{position}", position).Replace(questionTmpl)
			answer, citations, err := g.ask(ctx, question)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			candidates = append(candidates, models.Candidate{
				Provider: "answer-engine",
				DedupKey: fmt.Sprintf("research:%s:%s", strings.ToLower(p.Company), name),
				Raw: map[string]any{
					"section":   name,
					"question":  question,
					"answer":    answer,
					"citations": citations,
					"company":   p.Company,
				},
			})
		}(section.Name, section.Question)
	}
	wg.Wait()

	if len(candidates) == 0 {
		return nil, models.Usage{}, fmt.Errorf("all research sections failed: %s", strings.Join(errs, "; "))
	}

	return candidates, models.Usage{
		Provider:  "answer-engine",
		CostUSD:   g.costPerQuery * float64(len(researchSections)),
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (g *ResearchGateway) ask(ctx context.Context, question string) (string, []string, error) {
	reqBody := answerRequest{
		Model: g.model,
		Messages: []answerMessage{
			{Role: "system", Content: "Answer factually with citations. Be concise."},
			{Role: "user", Content: question},
		},
	}

	respBytes, err := postJSON(ctx, g.httpClient, g.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + g.apiKey}, reqBody)
	if err != nil {
		return "", nil, err
	}

	var parsed answerResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", nil, fmt.Errorf("parse answer response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, fmt.Errorf("answer engine returned no choices")
	}
	return parsed.Choices[0].Message.Content, parsed.Citations, nil
}

// ResearchSectionCount is exported for summary payloads and tests.
func ResearchSectionCount() int { return len(researchSections) }
