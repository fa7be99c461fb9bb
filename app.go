package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/config"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/events"
	"github.com/gtdb/ani-engine/pkg/logging"
	"github.com/gtdb/ani-engine/pkg/mail"
	"github.com/gtdb/ani-engine/pkg/mirror"
	"github.com/gtdb/ani-engine/pkg/repositories"
	"github.com/gtdb/ani-engine/pkg/retry"
	"github.com/gtdb/ani-engine/pkg/services"
	"github.com/gtdb/ani-engine/pkg/worker"
)

// app holds the shared connections and repositories of one process.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	redis  *redis.Client
	bus    *events.Bus

	genomes  repositories.GenomeRepository
	jobs     repositories.JobRepository
	pairs    repositories.PairRepository
	params   repositories.ParamRepository
	results  repositories.ResultRepository
	taxonomy repositories.TaxonomyRepository

	registry services.GenomeRegistry
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	connStr := cfg.Database.ConnectionString()
	logger.Info("Connecting to database", zap.String("url", logging.SanitizeConnectionString(connStr)))

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}
	if redisClient == nil {
		logger.Info("Redis not configured, event bus disabled")
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		bus:      events.NewBus(redisClient, cfg.Redis.Channel, logger),
		genomes:  repositories.NewGenomeRepository(),
		jobs:     repositories.NewJobRepository(),
		pairs:    repositories.NewPairRepository(),
		params:   repositories.NewParamRepository(),
		results:  repositories.NewResultRepository(),
		taxonomy: repositories.NewTaxonomyRepository(),
	}

	a.registry, err = services.NewGenomeRegistry(db, a.genomes, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the process connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	a.db.Close()
}

func (a *app) taxonomyService() services.TaxonomyService {
	ttl := time.Duration(a.cfg.Taxonomy.CacheTTLMinutes) * time.Minute
	return services.NewTaxonomyService(a.db, a.taxonomy, ttl, a.logger)
}

func (a *app) dispatcher() *services.Dispatcher {
	store := mirror.NewStore(a.cfg.Mirror.Root, a.cfg.Mirror.FetchMissing, a.cfg.Mirror.DownloadsPerSecond, a.logger)
	runner := worker.NewRunner(a.cfg.Worker.Programs, store, a.registry, a.cfg.Worker.ScratchDir, a.logger)
	return services.NewDispatcher(
		a.db, a.jobs, a.pairs, a.results, a.genomes, a.params,
		runner, a.bus,
		services.NewDispatcherConfig(&a.cfg.ANI, &a.cfg.Worker),
		a.logger,
	)
}

func (a *app) retentionService() services.RetentionService {
	return services.NewRetentionService(a.db, a.jobs, a.genomes, a.pairs, a.results, &a.cfg.Retention, a.logger)
}

// notificationService returns nil when no mail relay is configured.
func (a *app) notificationService() services.NotificationService {
	sender := mail.NewSMTPSender(&a.cfg.Mail)
	if sender == nil {
		return nil
	}
	return services.NewNotificationService(a.db, a.jobs, sender, a.bus, &a.cfg.Mail, a.logger)
}
