package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/handlers"
	"github.com/gtdb/ani-engine/pkg/middleware"
	"github.com/gtdb/ani-engine/pkg/mirror"
	"github.com/gtdb/ani-engine/pkg/services"
)

const shutdownTimeout = 15 * time.Second

var (
	serveWithDispatcher bool
	serveWithMaintainer bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the submission, status and result API",
		RunE:  runServe,
	}

	dispatchCmd = &cobra.Command{
		Use:   "dispatch",
		Short: "Expand queued jobs and run per-pair comparisons",
		RunE:  runDispatch,
	}

	maintainCmd = &cobra.Command{
		Use:   "maintain",
		Short: "Run the retention pass and completion notifications",
		RunE:  runMaintain,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}

	mirrorCmd = &cobra.Command{
		Use:   "mirror",
		Short: "Manage the NCBI mirror index",
	}

	mirrorImportCmd = &cobra.Command{
		Use:   "import <index.tsv>",
		Short: "Append accession, md5 and URL rows to the mirror index",
		Args:  cobra.ExactArgs(1),
		RunE:  runMirrorImport,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveWithDispatcher, "dispatch", false, "Also run a dispatcher in this process")
	serveCmd.Flags().BoolVar(&serveWithMaintainer, "maintain", false, "Also run retention and notifications in this process")

	mirrorCmd.AddCommand(mirrorImportCmd)
	rootCmd.AddCommand(serveCmd, dispatchCmd, maintainCmd, migrateCmd, mirrorCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}
	defer a.Close()

	paramService := services.NewParamService(a.db, a.params, logger)
	taxonomy := a.taxonomyService()
	results := services.NewResultService(a.db, a.jobs, a.results, a.genomes, logger)
	aniHandler := handlers.NewANIHandler(
		services.NewSubmissionService(a.db, a.jobs, a.registry, paramService, a.bus, &cfg.ANI, logger),
		services.NewQueueService(a.db, a.jobs, logger),
		results,
		services.NewHeatmapService(results, taxonomy, logger),
		services.NewValidationService(a.registry, taxonomy, cfg.ANI.MaxPairwise, logger),
		&cfg.ANI,
		logger,
	)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, a.db, logger).RegisterRoutes(mux)
	aniHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Recover(logger)(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting ani-engine", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if serveWithDispatcher {
		g.Go(func() error { return a.dispatcher().Run(gctx) })
	}
	if serveWithMaintainer {
		startMaintenance(gctx, g, a)
	}

	err = g.Wait()
	logger.Info("ani-engine stopped")
	return err
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}
	defer a.Close()

	return a.dispatcher().Run(cmd.Context())
}

func runMaintain(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(cmd.Context())
	startMaintenance(gctx, g, a)
	return g.Wait()
}

// startMaintenance schedules the retention pass and, when a mail relay is
// configured, the notifier on g. Both stop when ctx is done.
func startMaintenance(ctx context.Context, g *errgroup.Group, a *app) {
	a.retentionService().RunScheduler(ctx, a.cfg.Retention.Interval())

	notifier := a.notificationService()
	if notifier == nil {
		a.logger.Info("Mail relay not configured, completion notifications disabled")
	} else {
		g.Go(func() error { return notifier.Run(ctx, a.cfg.Worker.PollInterval()) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, logger)
}

func runMirrorImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open mirror index: %w", err)
	}
	defer f.Close()

	entries, err := mirror.ParseIndex(f)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	added, err := a.registry.ImportMirror(cmd.Context(), entries)
	if err != nil {
		return err
	}
	logger.Info("Imported mirror index",
		zap.String("file", args[0]),
		zap.Int("rows", len(entries)),
		zap.Int64("added", added))
	return nil
}
