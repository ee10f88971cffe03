// Package control wires configuration into a running ingestion service
// and owns its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/feolivs/contabilidadepro-sub003/internal/api"
	"github.com/feolivs/contabilidadepro-sub003/internal/batch"
	"github.com/feolivs/contabilidadepro-sub003/internal/classify"
	"github.com/feolivs/contabilidadepro-sub003/internal/core/config"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/ocr"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage/memory"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage/postgres"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage/redisblob"
	"github.com/feolivs/contabilidadepro-sub003/internal/pipeline"
)

// MigrationsDir is where goose migrations live relative to the working
// directory.
const MigrationsDir = "migrations"

// Service is the assembled ingestion application.
type Service struct {
	cfg       *config.AppConfig
	extractor *pipeline.Extractor
	orch      *batch.Orchestrator
	server    *api.Server
	db        *postgres.DB
	redis     *redisblob.Store
	logger    *slog.Logger

	cancel context.CancelFunc
	srvErr chan error
}

// NewService builds the full dependency graph from configuration.
// Redis and Postgres are optional: without them blobs live in memory and
// job records are not persisted.
func NewService(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	logger := slog.Default()

	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no ocr providers configured")
	}

	classifier := classify.New(cfg.ClassifierConfig())
	extractor := pipeline.New(cfg.PipelineConfig(), classifier, providers,
		pipeline.WithLogger(logger.With("component", "pipeline")))

	svc := &Service{cfg: cfg, extractor: extractor, logger: logger}

	var blobs storage.BlobStore = memory.NewBlobStore()
	if cfg.Redis.URL != "" {
		store, err := redisblob.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.redis = store
		blobs = store
		logger.Info("blob store: redis")
	} else {
		logger.Info("blob store: in-memory")
	}

	var repo storage.JobRepository = storage.NopJobRepository{}
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(MigrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		svc.db = db
		repo = postgres.NewJobRepo(db)
		logger.Info("job records: postgres")
	}

	orch, err := batch.New(cfg.Batch, extractor, blobs, repo,
		logger.With("component", "batch"))
	if err != nil {
		return nil, err
	}
	svc.orch = orch
	return svc, nil
}

// Orchestrator exposes the batch orchestrator, mainly for the CLI.
func (s *Service) Orchestrator() *batch.Orchestrator { return s.orch }

// Extractor exposes the extraction pipeline.
func (s *Service) Extractor() *pipeline.Extractor { return s.extractor }

// Start launches breaker monitors and the HTTP API. It does not block.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.extractor.StartMonitors(runCtx)

	handler := api.NewHandler(runCtx, s.orch, s.extractor,
		s.logger.With("component", "api"))
	s.server = api.NewServer(s.cfg.Server.Port, handler, s.logger)

	s.srvErr = make(chan error, 1)
	go func() {
		s.srvErr <- s.server.Start()
	}()
	return nil
}

// Stop shuts the service down: HTTP first, then the orchestrator and the
// storage connections.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		defer s.cancel()
	}

	var firstErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
		if err := <-s.srvErr; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.orch.Cancel()
	s.orch.Release()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildProviders instantiates the configured providers, lowest priority
// value first.
func buildProviders(cfgs []ocr.Config) ([]ocr.Provider, error) {
	sorted := make([]ocr.Config, len(cfgs))
	copy(sorted, cfgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	providers := make([]ocr.Provider, 0, len(sorted))
	for _, pc := range sorted {
		switch pc.Kind {
		case "vision":
			p, err := ocr.NewVisionProvider(pc)
			if err != nil {
				return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
			}
			providers = append(providers, p)
		case "http":
			providers = append(providers, ocr.NewHTTPProvider(pc))
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind)
		}
	}
	return providers, nil
}
