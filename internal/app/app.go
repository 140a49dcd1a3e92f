// Package app builds the shared object graph used by both the api and worker
// processes: store, queue, provider gateways, domain managers, and the
// enrichment processor.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/arouf1/cs-api/internal/archive"
	"github.com/arouf1/cs-api/internal/cache"
	"github.com/arouf1/cs-api/internal/config"
	"github.com/arouf1/cs-api/internal/embed"
	"github.com/arouf1/cs-api/internal/enrich"
	"github.com/arouf1/cs-api/internal/lifecycle"
	"github.com/arouf1/cs-api/internal/models"
	"github.com/arouf1/cs-api/internal/providers"
	"github.com/arouf1/cs-api/internal/queue"
	"github.com/arouf1/cs-api/internal/scheduler"
	"github.com/arouf1/cs-api/internal/store"
)

// App holds the wired components. Close releases their connections.
type App struct {
	Cfg       config.Config
	Store     *store.Postgres
	Redis     *redis.Client
	Queue     *queue.FetchQueue
	Registry  lifecycle.Registry
	Processor *scheduler.Processor
}

// Build connects to Postgres and Redis, runs migrations, and wires the
// domain managers.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	fetchQueue := queue.NewFetchQueue(redisClient, cfg.VisibilityTimeout)

	gazetteer := providers.NewGazetteer(cache.NewRedis(redisClient, "gazetteer"))

	jobsGateway := providers.NewJobsGateway(
		providers.NewSerpJobsClient(cfg.SerpBaseURL, cfg.SerpAPIKey, nil),
		providers.NewAdzunaJobsClient(cfg.AdzunaBaseURL, cfg.AdzunaAppID, cfg.AdzunaAppKey, nil),
		gazetteer,
	)
	profilesGateway := providers.NewProfilesGateway(cfg.NeuralSearchBaseURL, cfg.NeuralSearchAPIKey, gazetteer, nil)
	researchGateway := providers.NewResearchGateway(cfg.AnswerEngineBaseURL, cfg.AnswerEngineAPIKey, cfg.AnswerEngineModel, nil)

	var archiver lifecycle.Archiver
	if s3a, err := archive.New(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion); err != nil {
		st.Close()
		return nil, fmt.Errorf("archive: %w", err)
	} else if s3a != nil {
		archiver = s3a
		log.Printf("raw payload archive enabled: s3://%s", cfg.ArchiveBucket)
	}

	registry := lifecycle.NewRegistry(
		lifecycle.NewManager(lifecycle.Domain{
			Name:           models.DomainJobs,
			Staleness:      cfg.JobsStaleness,
			PendingTimeout: cfg.PendingTimeout,
			KeyFields:      []string{"query", "location", "country_code", "num_results"},
			Fetch:          jobsFetch(jobsGateway),
		}, st, fetchQueue, archiver),
		lifecycle.NewManager(lifecycle.Domain{
			Name:           models.DomainProfiles,
			Staleness:      cfg.ProfilesStaleness,
			PendingTimeout: cfg.PendingTimeout,
			KeyFields:      []string{"job_title", "user_location", "num_results"},
			Fetch:          profilesFetch(profilesGateway),
		}, st, fetchQueue, archiver),
		lifecycle.NewManager(lifecycle.Domain{
			Name:           models.DomainResearch,
			Staleness:      cfg.ResearchStaleness,
			PendingTimeout: cfg.PendingTimeout,
			KeyFields:      []string{"company", "position", "location", "type"},
			Fetch:          researchFetch(researchGateway),
		}, st, fetchQueue, archiver),
	)

	enricher := enrich.New(enrich.NewOpenAIProvider("https://api.openai.com/v1", cfg.OpenAIAPIKey, cfg.OpenAIChatModel, nil))
	embedder := embed.NewOpenAIClient("https://api.openai.com/v1", cfg.OpenAIAPIKey, cfg.OpenAIEmbedModel, nil)
	processor := scheduler.NewProcessor(st, enricher, embedder)

	return &App{
		Cfg:       cfg,
		Store:     st,
		Redis:     redisClient,
		Queue:     fetchQueue,
		Registry:  registry,
		Processor: processor,
	}, nil
}

func (a *App) Close() {
	a.Store.Close()
	if err := a.Redis.Close(); err != nil {
		log.Printf("close redis: %v", err)
	}
}

// Schedules derives the per-domain enrichment cadence from config.
func (a *App) Schedules() []scheduler.DomainSchedule {
	return []scheduler.DomainSchedule{
		{
			Domain:        models.DomainJobs,
			BatchInterval: a.Cfg.JobsBatchInterval,
			BatchSize:     a.Cfg.JobsBatchSize,
			RefreshAge:    a.Cfg.JobsStaleness,
			RefreshBatch:  a.Cfg.RefreshBatchSize,
		},
		{
			Domain:        models.DomainProfiles,
			BatchInterval: a.Cfg.ProfilesBatchInterval,
			BatchSize:     a.Cfg.ProfilesBatchSize,
			RefreshAge:    a.Cfg.ProfilesStaleness,
			RefreshBatch:  a.Cfg.RefreshBatchSize,
		},
		{
			Domain:        models.DomainResearch,
			BatchInterval: a.Cfg.ResearchBatchInterval,
			BatchSize:     a.Cfg.ResearchBatchSize,
			RefreshAge:    a.Cfg.ResearchStaleness,
			RefreshBatch:  a.Cfg.RefreshBatchSize,
		},
	}
}

func jobsFetch(g *providers.JobsGateway) lifecycle.FetchFunc {
	return func(ctx context.Context, params map[string]any) ([]models.Candidate, models.Usage, error) {
		return g.Fetch(ctx, providers.JobsParams{
			Query:       asString(params["query"]),
			Location:    asString(params["location"]),
			CountryCode: asString(params["country_code"]),
			NumResults:  asInt(params["num_results"]),
		})
	}
}

func profilesFetch(g *providers.ProfilesGateway) lifecycle.FetchFunc {
	return func(ctx context.Context, params map[string]any) ([]models.Candidate, models.Usage, error) {
		return g.Fetch(ctx, providers.ProfilesParams{
			JobTitle:     asString(params["job_title"]),
			UserLocation: asString(params["user_location"]),
			NumResults:   asInt(params["num_results"]),
		})
	}
}

func researchFetch(g *providers.ResearchGateway) lifecycle.FetchFunc {
	return func(ctx context.Context, params map[string]any) ([]models.Candidate, models.Usage, error) {
		return g.Fetch(ctx, providers.ResearchParams{
			Company:  asString(params["company"]),
			Position: asString(params["position"]),
			Location: asString(params["location"]),
			Type:     asString(params["type"]),
		})
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt tolerates float64: params round-trip through JSON columns, where
// numbers come back as floats.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
