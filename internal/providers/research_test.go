package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func writeAnswer(w http.ResponseWriter, content string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices":   []map[string]any{{"message": map[string]any{"content": content}}},
		"citations": []string{"https://example.com/source"},
	})
}

func lastQuestion(t *testing.T, r *http.Request) string {
	t.Helper()
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("decode request: %v", err)
		return ""
	}
	if len(req.Messages) == 0 {
		t.Error("request had no messages")
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

func TestResearchFetch_OneCandidatePerSection(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		writeAnswer(w, "answer to: "+lastQuestion(t, r))
	}))
	defer srv.Close()

	g := NewResearchGateway(srv.URL, "key", "sonar", srv.Client())
	candidates, usage, err := g.Fetch(context.Background(), ResearchParams{
		Company: "Acme Corp", Position: "Backend Engineer",
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(candidates) != ResearchSectionCount() {
		t.Fatalf("candidates = %d, want %d", len(candidates), ResearchSectionCount())
	}
	if int(calls) != ResearchSectionCount() {
		t.Fatalf("calls = %d, want one per section", calls)
	}
	if usage.Provider != "answer-engine" {
		t.Fatalf("provider = %q", usage.Provider)
	}

	seen := map[string]bool{}
	for _, c := range candidates {
		if !strings.HasPrefix(c.DedupKey, "research:acme corp:") {
			t.Fatalf("dedup key = %q", c.DedupKey)
		}
		if seen[c.DedupKey] {
			t.Fatalf("duplicate dedup key %q", c.DedupKey)
		}
		seen[c.DedupKey] = true
		if c.Raw["answer"] == "" || c.Raw["section"] == "" {
			t.Fatalf("raw payload incomplete: %v", c.Raw)
		}
	}
}

func TestResearchFetch_PartialSectionFailureStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := lastQuestion(t, r)
		if strings.Contains(q, "funding") {
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		writeAnswer(w, "ok")
	}))
	defer srv.Close()

	g := NewResearchGateway(srv.URL, "key", "sonar", srv.Client())
	candidates, _, err := g.Fetch(context.Background(), ResearchParams{Company: "Acme"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(candidates) != ResearchSectionCount()-1 {
		t.Fatalf("candidates = %d, want %d", len(candidates), ResearchSectionCount()-1)
	}
}

func TestResearchFetch_AllSectionsFailingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream error", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewResearchGateway(srv.URL, "key", "sonar", srv.Client())
	_, _, err := g.Fetch(context.Background(), ResearchParams{Company: "Acme"})
	if err == nil {
		t.Fatal("expected error when every section fails")
	}
}

func TestResearchFetch_SubstitutesPositionInInterviewQuestion(t *testing.T) {
	var interviewQuestion atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := lastQuestion(t, r)
		if strings.Contains(q, "interview process") {
			interviewQuestion.Store(q)
		}
		writeAnswer(w, "ok")
	}))
	defer srv.Close()

	g := NewResearchGateway(srv.URL, "key", "sonar", srv.Client())
	if _, _, err := g.Fetch(context.Background(), ResearchParams{
		Company: "Acme", Position: "Staff SRE",
	}); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	q, _ := interviewQuestion.Load().(string)
	if !strings.Contains(q, "Acme") || !strings.Contains(q, "Staff SRE") {
		t.Fatalf("interview question = %q", q)
	}
	if strings.Contains(q, "{company}") || strings.Contains(q, "{position}") {
		t.Fatalf("unsubstituted placeholder in %q", q)
	}
}
