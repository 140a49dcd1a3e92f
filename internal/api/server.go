package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/arouf1/cs-api/internal/lifecycle"
	"github.com/arouf1/cs-api/internal/models"
	"github.com/arouf1/cs-api/internal/scheduler"
	"github.com/arouf1/cs-api/internal/store"
	"github.com/arouf1/cs-api/internal/telemetry"
)

// Server wires HTTP handlers for the search API.
type Server struct {
	registry  lifecycle.Registry
	store     store.Store
	processor *scheduler.Processor
}

// New constructs the API server. processor may be nil when the manual
// enrichment trigger is not wanted.
func New(registry lifecycle.Registry, st store.Store, processor *scheduler.Processor) *Server {
	return &Server{registry: registry, store: st, processor: processor}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/research", s.handleResearch)
		r.Post("/profiles", s.handleProfiles)
		r.Post("/jobs", s.handleJobs)
		r.Get("/{domain}/{id}", s.handleGetSearch)
		r.Get("/{domain}/{id}/results", s.handleListResults)
	})

	r.Post("/internal/enrich/{domain}/run", s.handleRunBatch)

	return r
}

type researchRequest struct {
	Company  string `json:"company"`
	Position string `json:"position"`
	Location string `json:"location"`
	Type     string `json:"type"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Company == "" {
		http.Error(w, "company is required", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = "general"
	}
	s.resolve(w, r, models.DomainResearch, map[string]any{
		"company":  req.Company,
		"position": req.Position,
		"location": req.Location,
		"type":     req.Type,
	})
}

type profilesRequest struct {
	JobTitle     string `json:"job_title"`
	UserLocation string `json:"user_location"`
	NumResults   int    `json:"num_results"`
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	var req profilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobTitle == "" {
		http.Error(w, "job_title is required", http.StatusBadRequest)
		return
	}
	if req.NumResults <= 0 {
		req.NumResults = 5
	}
	s.resolve(w, r, models.DomainProfiles, map[string]any{
		"job_title":     req.JobTitle,
		"user_location": req.UserLocation,
		"num_results":   req.NumResults,
	})
}

type jobsRequest struct {
	Query       string `json:"query"`
	Location    string `json:"location"`
	CountryCode string `json:"country_code"`
	NumResults  int    `json:"num_results"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	var req jobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.NumResults <= 0 {
		req.NumResults = 10
	}
	s.resolve(w, r, models.DomainJobs, map[string]any{
		"query":        req.Query,
		"location":     req.Location,
		"country_code": req.CountryCode,
		"num_results":  req.NumResults,
	})
}

// resolve runs find-or-create for one domain and answers immediately: a
// reusable complete search returns 200 with cached data, anything pending
// returns 202 with an ID to poll.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request, domain string, params map[string]any) {
	manager, ok := s.registry[domain]
	if !ok {
		http.Error(w, "unknown domain", http.StatusNotFound)
		return
	}
	res, err := manager.FindOrCreate(r.Context(), params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	code := http.StatusAccepted
	if res.IsExisting && res.Status == models.StatusComplete {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

type searchStatusResponse struct {
	models.Search
	ResultsTotal     int `json:"results_total"`
	ResultsProcessed int `json:"results_processed"`
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	id := chi.URLParam(r, "id")

	manager, ok := s.registry[domain]
	if !ok {
		http.Error(w, "unknown domain", http.StatusNotFound)
		return
	}
	search, found, err := manager.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found || search.Domain != domain {
		http.Error(w, "search not found", http.StatusNotFound)
		return
	}

	total, processed, err := s.store.CountResultsBySearch(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, searchStatusResponse{
		Search:           search,
		ResultsTotal:     total,
		ResultsProcessed: processed,
	})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	id := chi.URLParam(r, "id")

	manager, ok := s.registry[domain]
	if !ok {
		http.Error(w, "unknown domain", http.StatusNotFound)
		return
	}
	search, found, err := manager.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found || search.Domain != domain {
		http.Error(w, "search not found", http.StatusNotFound)
		return
	}

	results, err := s.store.ListResultsBySearch(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []models.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"search_id": id,
		"status":    search.Status,
		"results":   results,
	})
}

// handleRunBatch triggers one enrichment batch outside the cron schedule.
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		http.Error(w, "enrichment not available on this instance", http.StatusNotImplemented)
		return
	}
	domain := chi.URLParam(r, "domain")
	if _, ok := s.registry[domain]; !ok {
		http.Error(w, "unknown domain", http.StatusNotFound)
		return
	}
	size := 10
	if v := r.URL.Query().Get("batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "batch must be a positive integer", http.StatusBadRequest)
			return
		}
		size = n
	}
	summary, err := s.processor.RunBatch(r.Context(), domain, size)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
