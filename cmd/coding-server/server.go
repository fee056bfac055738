package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/codingassist/internal/config"
	"github.com/ehr/codingassist/internal/domain/icd10"
	"github.com/ehr/codingassist/internal/platform/auditlog"
	"github.com/ehr/codingassist/internal/platform/auth"
	"github.com/ehr/codingassist/internal/platform/cache"
	"github.com/ehr/codingassist/internal/platform/cmsfile"
	"github.com/ehr/codingassist/internal/platform/db"
	"github.com/ehr/codingassist/internal/platform/llm"
	"github.com/ehr/codingassist/internal/platform/middleware"
)

const version = "0.1.0"

// app holds the long-lived resources behind the HTTP server and the CLI.
type app struct {
	svc     *icd10.Service
	pool    *pgxpool.Pool
	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// newApp opens the search backend, the optional cache and AI client, and
// assembles the icd10 service.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	repo, err := a.openRepository(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		repo = cachedRepository(repo, client, cfg, logger)
		logger.Info().Dur("ttl", cfg.SearchCacheTTL).Msg("search cache enabled")
	}

	suggester, err := a.newSuggester(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine := icd10.NewSearchEngine(repo, cfg.MaxAllowedResults)
	a.svc = icd10.NewService(engine, suggester, icd10.ServiceConfig{
		DefaultMaxResults: cfg.DefaultMaxResults,
		FilterInvalid:     cfg.FilterInvalidCodes,
		AIModel:           cfg.AIDeployment,
		AIVersion:         cfg.AIAPIVersion,
		AITemperature:     cfg.AITemperature,
	}, logger)
	return a, nil
}

func cachedRepository(repo icd10.CodeRepository, client *redis.Client, cfg *config.Config, logger zerolog.Logger) icd10.CodeRepository {
	store := cache.New(client, cachePrefix(cfg.SearchBackend), cfg.SearchCacheTTL)
	return icd10.NewCachedCodeRepo(repo, store, logger)
}

// cachePrefix namespaces cached search results by backend.
func cachePrefix(backend string) string {
	return "icd10:" + backend + ":"
}

// flushSearchCache drops cached pages and counts for the configured backend
// so an import is visible before SEARCH_CACHE_TTL expires. It is a no-op
// without REDIS_URL.
func flushSearchCache(ctx context.Context, cfg *config.Config) (int, error) {
	if cfg.RedisURL == "" {
		return 0, nil
	}
	client, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return 0, err
	}
	defer client.Close()
	return cache.New(client, cachePrefix(cfg.SearchBackend), 0).Flush(ctx)
}

func (a *app) openRepository(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (icd10.CodeRepository, error) {
	switch cfg.SearchBackend {
	case config.BackendBleve:
		repo, err := openBleve(cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		count, err := repo.DocCount()
		if err != nil {
			return nil, err
		}
		logger.Info().Uint64("codes", count).Msg("bleve index ready")
		return repo, nil
	default:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, err
		}
		a.pool = pool
		logger.Info().Msg("connected to database")
		return icd10.NewCodeRepoPG(pool, cfg.DBTimeout), nil
	}
}

// openBleve opens BLEVE_INDEX_PATH when set, otherwise builds an in-memory
// index. An empty index is filled from CMS_CODES_FILE when one is given.
func openBleve(cfg *config.Config) (*icd10.BleveCodeRepo, error) {
	var (
		repo *icd10.BleveCodeRepo
		err  error
	)
	if cfg.BleveIndexPath != "" {
		repo, err = icd10.OpenBleveCodeRepo(cfg.BleveIndexPath)
	} else {
		repo, err = icd10.NewMemBleveCodeRepo()
	}
	if err != nil {
		return nil, err
	}
	if cfg.CMSCodesFile == "" {
		return repo, nil
	}

	count, err := repo.DocCount()
	if err != nil {
		repo.Close()
		return nil, err
	}
	if count > 0 {
		return repo, nil
	}
	records, err := cmsfile.ReadFile(cfg.CMSCodesFile)
	if err != nil {
		repo.Close()
		return nil, err
	}
	if err := repo.IndexRecords(records); err != nil {
		repo.Close()
		return nil, fmt.Errorf("index %s: %w", cfg.CMSCodesFile, err)
	}
	return repo, nil
}

// newSuggester returns a SuggestionService. Without an AI endpoint it has no
// completer and every search returns database results only.
func (a *app) newSuggester(cfg *config.Config, logger zerolog.Logger) (*icd10.SuggestionService, error) {
	audit, err := auditlog.New(logger, auditlog.Options{
		Console:     cfg.GPTConsoleLogging,
		File:        cfg.GPTFileLogging,
		Dir:         cfg.GPTLogPath,
		Environment: cfg.Env,
	})
	if err != nil {
		return nil, err
	}

	scfg := icd10.SuggestConfig{
		SystemPrompt:      cfg.AISystemPrompt,
		AdditionalContext: cfg.AIAdditionalContext,
		Temperature:       cfg.AITemperature,
		Timeout:           cfg.AITimeout,
		Deployment:        cfg.AIDeployment,
		APIVersion:        cfg.AIAPIVersion,
	}
	if !cfg.AIEnabled() {
		logger.Warn().Msg("AI endpoint not configured, suggestions disabled")
		return icd10.NewSuggestionService(nil, audit, scfg, logger), nil
	}

	client, err := llm.NewAzureClient(llm.AzureConfig{
		Endpoint:   cfg.AIEndpoint,
		Deployment: cfg.AIDeployment,
		APIKey:     cfg.AIAPIKey,
		APIVersion: cfg.AIAPIVersion,
		Timeout:    cfg.AITimeout,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return icd10.NewSuggestionService(client, audit, scfg, logger), nil
}

// newEcho builds the HTTP server: global middleware, health routes, and the
// authenticated /api/v1 group.
func newEcho(cfg *config.Config, a *app, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, "/health"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(auth.SharedSecret(auth.SharedSecretConfig{
		Secret: cfg.APISharedSecret,
		Logger: logger.With().Str("component", "auth").Logger(),
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"backend": cfg.SearchBackend,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool, cfg.DBTimeout))
	}

	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	icd10.NewHandler(a.svc, logger).RegisterRoutes(apiV1)
	return e
}
