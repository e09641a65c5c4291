package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"appdate/internal/config"
	appLog "appdate/internal/log"
	"appdate/internal/metrics"
	"appdate/internal/store"
)

const version = "0.1.0"

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "appdate",
		Usage:   "Shared calendar of manual and synchronised appointments.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "Path to config file",
				EnvVars: []string{"APPDATE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Overrides log_level from the config",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			agendaCommand(),
			importCommand(),
			exportCommand(),
			backupCommand(),
			restoreCommand(),
			ingestCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("appdate failed", err)
		os.Exit(1)
	}
}

// runtime holds what every command needs after config loading.
type runtime struct {
	cfg     *config.Config
	loc     *time.Location
	store   store.Store
	metrics *metrics.Manager
}

// setup loads the config, applies log level and timezone and opens the
// store.
func setup(c *cli.Context, metricOpts ...metrics.Option) (*runtime, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	levelName := cfg.LogLevel
	if c.IsSet("log-level") {
		levelName = c.String("log-level")
	}
	level, err := appLog.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	appLog.SetLevel(level)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	// Naive timestamps in stored records are wall clock in this zone.
	time.Local = loc

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	appLog.Info("effective config",
		"config_path", path,
		"timezone", cfg.Timezone,
		"week_start", cfg.WeekStart,
		"store", cfg.Store.Driver,
		"store_path", cfg.Store.Path,
		"max_batch", cfg.MaxBatch,
		"ingest_enabled", cfg.IngestSecret != "",
	)
	return &runtime{
		cfg:     cfg,
		loc:     loc,
		store:   st,
		metrics: metrics.NewManager(metricOpts...),
	}, nil
}

func openStore(sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o700); err != nil {
			return nil, err
		}
		db, err := store.OpenSQLite(sc.Path, store.WithWatch(sc.Watch))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w %q", config.ErrInvalidDriver, sc.Driver)
	}
}

func (rt *runtime) close() {
	if err := rt.store.Close(); err != nil {
		appLog.Error("failed to close store", err)
	}
}
