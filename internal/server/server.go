package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/todomyday/recall/config"
	"github.com/todomyday/recall/internal/retrieval/chunker"
	"github.com/todomyday/recall/internal/retrieval/embedding"
	"github.com/todomyday/recall/internal/retrieval/hybrid"
	"github.com/todomyday/recall/internal/retrieval/index"
	"github.com/todomyday/recall/internal/retrieval/ingest"
	"github.com/todomyday/recall/internal/retrieval/keywordindex"
	"github.com/todomyday/recall/internal/retrieval/provider"
	"github.com/todomyday/recall/internal/retrieval/rerr"
	"github.com/todomyday/recall/internal/retrieval/vectorindex"
)

// Run wires the retrieval stack from config and serves HTTP until the
// listener fails.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code, msg := statusFor(err)
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")

	if !cfg.Retrieval.Enabled {
		notConfigured := func(c echo.Context) error {
			return rerr.Configuration("retrieval is not configured (retrieval.enabled)")
		}
		api.POST("/search", notConfigured)
		api.POST("/ask", notConfigured)
		api.POST("/uploads", notConfigured)
		api.GET("/uploads/:job_id", notConfigured)
		baseLogger.Printf("retrieval disabled, serving %s with stub routes", cfg.Server.Listen)
		return e.Start(cfg.Server.Listen)
	}

	ctx := context.Background()

	prov, err := provider.NewProvider(cfg.Retrieval.Embedding)
	if err != nil {
		return err
	}

	cacheLogger := log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	cache := embedding.NewCache(cfg.Retrieval.Embedding.Cache, cacheLogger)
	if cache != nil {
		if err := cache.Ping(ctx); err != nil {
			cacheLogger.Printf("embedding cache unreachable, continuing without it: %v", err)
			cache = nil
		}
	}
	embedder, err := embedding.NewClient(prov, cache, cfg.Retrieval.Embedding, cacheLogger)
	if err != nil {
		return err
	}

	vectors, err := openVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	keywords, err := keywordindex.Open(cfg.Storage.Keyword.Path, nil)
	if err != nil {
		return err
	}

	ch := chunker.New(cfg.Retrieval.Chunking)
	writer := index.NewWriter(vectors, keywords, embedder, ch, nil)

	answerer := &hybrid.ProviderAnswerer{Complete: prov.Complete}
	orch := hybrid.NewOrchestrator(embedder, vectors, keywords, answerer, cfg.Retrieval.Search, nil)

	registry := ingest.NewRegistry(cfg.Jobs.Retention, nil)
	registry.StartJanitor(cfg.Jobs.SweepSchedule)
	manager := ingest.NewManager(registry, ingest.DefaultBuilder{}, writer, nil)
	parser := &ingest.FileParser{MaxFileSize: cfg.Jobs.MaxFileSize}

	// Periodic snapshots keep the in-memory index recoverable across restarts.
	if mem, ok := vectors.(*vectorindex.Memory); ok && cfg.Storage.Vector.SnapshotPath != "" {
		go flushLoop(mem, baseLogger)
	}

	sh := &SearchHandler{Orchestrator: orch}
	sh.Register(api)
	uh := &UploadsHandler{Manager: manager, Parser: parser, Logger: log.New(log.Writer(), "[INGEST] ", log.LstdFlags)}
	uh.Register(api)

	baseLogger.Printf("listening on %s (vector backend %s)", cfg.Server.Listen, cfg.Storage.Vector.Backend)
	return e.Start(cfg.Server.Listen)
}

func openVectorStore(ctx context.Context, cfg *appconfig.Config) (vectorindex.Store, error) {
	dims := cfg.Retrieval.Embedding.Dimensions
	switch cfg.Storage.Vector.Backend {
	case "", "memory":
		return vectorindex.NewMemory(dims, cfg.Storage.Vector.SnapshotPath)
	case "qdrant":
		return vectorindex.NewQdrant(ctx, cfg.Storage.Vector.QdrantURL, cfg.Storage.Vector.Collection, dims)
	default:
		return nil, rerr.Configuration("unknown vector backend %q", cfg.Storage.Vector.Backend)
	}
}

func flushLoop(mem *vectorindex.Memory, logger *log.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		if err := mem.Flush(); err != nil {
			logger.Printf("vector snapshot flush failed: %v", err)
		}
	}
}

// statusFor maps domain error kinds onto HTTP status codes.
func statusFor(err error) (int, string) {
	if he, ok := err.(*echo.HTTPError); ok {
		msg := he.Error()
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, msg
	}
	switch rerr.KindOf(err) {
	case rerr.KindValidation:
		return http.StatusBadRequest, err.Error()
	case rerr.KindNotFound:
		return http.StatusNotFound, err.Error()
	case rerr.KindConfiguration:
		return http.StatusServiceUnavailable, err.Error()
	case rerr.KindExternal:
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// ownerID pulls the requesting user from the X-User-ID header. The
// surrounding app terminates auth before traffic reaches this service.
func ownerID(c echo.Context) (string, error) {
	id := c.Request().Header.Get("X-User-ID")
	if id == "" {
		return "", rerr.Validation("missing X-User-ID header")
	}
	return id, nil
}
