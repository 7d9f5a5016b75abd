// Package bootstrap wires configuration into adapters and services. It is
// shared by the HTTP server and the command line tool.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"model-uploader/internal/adapters/secondary/eventlog"
	"model-uploader/internal/adapters/secondary/filestore"
	"model-uploader/internal/adapters/secondary/postgres"
	"model-uploader/internal/adapters/secondary/roboflow"
	"model-uploader/internal/adapters/secondary/s3store"
	"model-uploader/internal/adapters/secondary/torchfile"
	"model-uploader/internal/config"
	"model-uploader/internal/core/ports/output"
	"model-uploader/internal/core/services"
)

type App struct {
	Config    *config.Config
	Deploy    *services.DeployService
	History   *services.HistoryService
	Hierarchy *services.HierarchyService

	events *eventlog.Log
	pool   *pgxpool.Pool
}

type options struct {
	clientOpts []roboflow.Option
}

type Option func(*options)

// WithClientOptions passes extra options to the remote service client.
func WithClientOptions(opts ...roboflow.Option) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// InitLogger configures the process-wide logger. When a log file is set,
// output is duplicated into a size-rotated file.
func InitLogger(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Logger.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if cfg.Logger.File != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			MaxSize:    eventlog.DefaultRotation.MaxSizeMB,
			MaxBackups: eventlog.DefaultRotation.MaxBackups,
			MaxAge:     eventlog.DefaultRotation.MaxAgeDays,
			Compress:   eventlog.DefaultRotation.Compress,
		}))
	}
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{Config: cfg}

	events, err := eventlog.Open(cfg.EventsFile(), eventlog.DefaultRotation)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	app.events = events

	rules, err := detectorRules(cfg.Detector)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("detector rules: %w", err)
	}

	store, err := app.artifactStore(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	manifests, err := app.manifestRepository(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	// Secondary adapters
	loader := detectionLoader(cfg.Detector)
	clientOpts := append([]roboflow.Option{roboflow.WithPackager(strictLoader(cfg.Detector))}, o.clientOpts...)
	client := roboflow.NewClient(&cfg.Roboflow, clientOpts...)
	if cfg.Roboflow.APIKey == "" {
		log.Warn("ROBOFLOW_API_KEY is not set, remote calls will fail")
	} else {
		log.WithField("api_key", config.MaskSecret(cfg.Roboflow.APIKey)).Debug("remote client configured")
	}

	// Core services
	app.Deploy = services.NewDeployService(services.DeployDeps{
		Hierarchy:     client,
		Deployer:      client,
		Datasets:      client,
		Store:         store,
		Manifests:     manifests,
		Events:        events,
		Fingerprinter: services.NewFingerprinter(),
		Detector:      services.NewArchitectureDetector(loader, rules),
		Resolver:      services.NewVersionResolver(),
	}, services.DeployConfig{
		AppVersion:    cfg.App.Version,
		PlanTTL:       cfg.Planner.TTL,
		PlanCacheSize: cfg.Planner.CacheSize,
	})
	app.History = services.NewHistoryService(manifests)
	app.Hierarchy = services.NewHierarchyService(client, events, cfg.Hierarchy.CacheSize, cfg.Hierarchy.CacheTTL)

	return app, nil
}

// Ping reports whether the manifest store is reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.pool != nil {
		return a.pool.Ping(ctx)
	}
	_, err := os.Stat(a.Config.Storage.ManifestsDir)
	return err
}

func (a *App) Close() {
	if a.Deploy != nil {
		a.Deploy.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			log.WithError(err).Warn("close event log")
		}
	}
}

func (a *App) artifactStore(cfg *config.Config) (ports.ArtifactStore, error) {
	if cfg.Storage.ArtifactBackend == "s3" {
		store, err := s3store.New(s3store.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 artifact store: %w", err)
		}
		log.WithFields(log.Fields{"endpoint": cfg.S3.Endpoint, "bucket": cfg.S3.Bucket}).Info("artifact store: s3")
		return store, nil
	}

	store, err := filestore.NewArtifactStore(cfg.Storage.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("create artifact store: %w", err)
	}
	log.WithField("dir", cfg.Storage.ArtifactsDir).Info("artifact store: file")
	return store, nil
}

func (a *App) manifestRepository(ctx context.Context, cfg *config.Config) (ports.ManifestRepository, error) {
	if cfg.Storage.ManifestBackend != "postgres" {
		repo, err := filestore.NewManifestRepository(cfg.Storage.ManifestsDir)
		if err != nil {
			return nil, fmt.Errorf("create manifest store: %w", err)
		}
		log.WithField("dir", cfg.Storage.ManifestsDir).Info("manifest store: file")
		return repo, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	a.pool = pool

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	repo := postgres.NewManifestRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	log.Info("manifest store: postgres")
	return repo, nil
}

func detectorRules(cfg config.DetectorConfig) (services.DetectorRules, error) {
	markers, err := config.ParseRules(cfg.Markers)
	if err != nil {
		return services.DetectorRules{}, err
	}
	filenames, err := config.ParseRules(cfg.FilenameRules)
	if err != nil {
		return services.DetectorRules{}, err
	}
	return services.ParseDetectorRules(markers, filenames, cfg.SupportedFamily)
}

// strictLoader mirrors the class registry of the remote runtime.
// detectionLoader is permissive unless StrictLoad is set; the strict loader
// turns unknown classes into errors that the detector reads by class name.
func detectionLoader(cfg config.DetectorConfig) *torchfile.Loader {
	if cfg.StrictLoad {
		return strictLoader(cfg)
	}
	return torchfile.NewLoader()
}

func strictLoader(cfg config.DetectorConfig) *torchfile.Loader {
	known := config.SplitList(cfg.KnownBlocks)
	if len(known) == 0 {
		known = torchfile.DefaultKnownBlocks
	}
	prefixes := config.SplitList(cfg.StrictPrefixes)
	if len(prefixes) == 0 {
		prefixes = torchfile.DefaultStrictPrefixes
	}
	return torchfile.NewLoader(torchfile.WithStrictClasses(known, prefixes))
}

// ExpandPath resolves a leading ~ and makes p absolute.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[1:])
	}
	return filepath.Abs(p)
}
