// PlateFlow - Dose-response plate data ingestion
// Loads instrument exports into a relational plate store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/plateflow/plateflow/pkg/config"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/groupcache"
	"github.com/plateflow/plateflow/pkg/ingest"
	"github.com/plateflow/plateflow/pkg/lock"
	"github.com/plateflow/plateflow/pkg/stats"
	"github.com/plateflow/plateflow/pkg/store"
	"github.com/plateflow/plateflow/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for user-actionable data errors and 1 otherwise.
func exitCode(err error) int {
	if pferrors.IsDomain(err) || errors.Is(err, errFilesFailed) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "plateflow",
	Short: "PlateFlow - Ingest dose-response plate data",
	Long: `PlateFlow loads plate reader and high-throughput screening exports
(instrument text, xlsx workbooks, Arrow containers) into a dataset store.

Configuration is read from /etc/plateflow/config.yaml, ~/.plateflow/config.yaml,
./.plateflow.yaml, the --config file and PLATEFLOW_* environment variables.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file loaded after the standard locations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	redis   *redis.Client
	metrics *telemetry.Metrics

	shutdownTracing func(context.Context) error
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// setup loads configuration, starts tracing and opens the store.
func setup(ctx context.Context) (*app, error) {
	logger := newLogger()
	slog.SetDefault(logger)

	mgr := config.NewManager(configPath)
	if err := mgr.Load(); err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	logger.Debug("config loaded", "paths", mgr.GetPaths(), "driver", cfg.Store.Driver)

	a := &app{cfg: cfg, logger: logger, metrics: telemetry.NewMetrics(nil)}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.NewOTLPExporter(telemetry.OTLPConfigFrom(cfg.Telemetry, version)).Init(ctx)
		if err != nil {
			return nil, err
		}
		a.shutdownTracing = shutdown
	}

	st, err := store.Open(ctx, store.OptionsFromConfig(cfg.Store, logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st

	if cfg.Redis.Addr != "" {
		client, err := lock.DialRedis(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
	}
	return a, nil
}

// Close releases everything setup opened.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("flush traces", "error", err)
		}
	}
}

// groups returns the grouping cache shared with the web tier when Redis is
// configured, and a process-local one otherwise.
func (a *app) groups() groupcache.Cache {
	if a.redis != nil {
		return groupcache.NewRedis(a.redis, a.cfg.Redis.Prefix, 0, a.cfg.Redis.Timeout)
	}
	return groupcache.NewMemory()
}

func (a *app) locker() lock.Locker {
	if a.redis != nil {
		return lock.NewRedis(a.redis, a.cfg.Redis.Prefix, a.cfg.Redis.LockTTL, a.cfg.Redis.Timeout)
	}
	return lock.NewLocal()
}

// service builds an upload service from configuration. progress may be nil.
func (a *app) service(progress func(done, total int, r ingest.Result)) *ingest.Service {
	opts := ingest.OptionsFromConfig(a.cfg.Ingest)
	opts.Metrics = a.metrics
	opts.Logger = a.logger
	opts.Progress = progress
	return ingest.NewService(a.store, opts,
		ingest.WithLocker(a.locker()),
		ingest.WithGroupCache(a.groups()),
		ingest.WithStats(stats.Logging{Logger: a.logger}),
	)
}

// withApp wraps a RunE so it gets a configured app.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}
