// Package bootstrap assembles the engine and its collaborators from the
// application configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/scrypster/recollect/internal/backup"
	"github.com/scrypster/recollect/internal/blob"
	"github.com/scrypster/recollect/internal/config"
	"github.com/scrypster/recollect/internal/encryption"
	"github.com/scrypster/recollect/internal/engine"
	"github.com/scrypster/recollect/internal/llm"
	"github.com/scrypster/recollect/internal/notify"
	"github.com/scrypster/recollect/internal/queue"
	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/internal/storage/postgres"
	"github.com/scrypster/recollect/internal/storage/sqlite"
)

// App is a wired engine plus the resources that must be released with it.
type App struct {
	Config *config.Config
	Logger *log.Logger
	Store  storage.Store
	Engine *engine.Engine

	closers []func() error
}

// New opens storage, blob store and queue, builds the model clients and
// returns an engine that is not started yet. observers receive pipeline
// events in addition to the configured event directory.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger, observers ...engine.Observer) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	store, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	blobs, err := OpenBlobs(ctx, cfg.Storage, cfg.Blob)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	q, err := OpenQueue(cfg.Queue, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	extractor, err := llm.NewFactExtractor(cfg.LLM)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("fact extractor: %w", err)
	}

	enc, err := encryption.New(cfg.Security.EncryptionKey)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("encryption: %w", err)
	}

	if cfg.Progress.EventsDir != "" {
		sink, err := notify.NewFileSink(cfg.Progress.EventsDir, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		observers = append(observers, sink)
	}

	app.Engine, err = engine.New(engine.Deps{
		Store:     store,
		Blobs:     blobs,
		Queue:     q,
		Embedder:  embedder,
		Extractor: extractor,
		Encrypter: enc,
		Observer:  notify.Fanout(observers),
		Logger:    logger,
	}, engine.ConfigFrom(cfg))
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	logger.Debug("application wired",
		"storage", cfg.Storage.Engine,
		"blob", cfg.Blob.Backend,
		"queue", cfg.Queue.Backend,
		"llm", cfg.LLM.Provider,
		"encrypted", cfg.Security.EncryptionKey != "")
	return app, nil
}

// Close releases every resource opened by New, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SQLitePath is the database file of the sqlite engine.
func SQLitePath(cfg config.StorageConfig) string {
	return filepath.Join(cfg.DataPath, "recollect.db")
}

// NewBackupManager returns the snapshot manager for the sqlite database.
// Other engines manage their own backups.
func NewBackupManager(cfg *config.Config, logger *log.Logger) (*backup.Manager, error) {
	if cfg.Storage.Engine != "sqlite" {
		return nil, fmt.Errorf("backups require the sqlite storage engine, got %q", cfg.Storage.Engine)
	}
	keep := backup.Retention{
		Hourly:  cfg.Backup.KeepHourly,
		Daily:   cfg.Backup.KeepDaily,
		Weekly:  cfg.Backup.KeepWeekly,
		Monthly: cfg.Backup.KeepMonthly,
	}
	return backup.NewManager(SQLitePath(cfg.Storage), cfg.Backup.Dir, keep, logger)
}

// OpenStore opens the configured database and applies migrations.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (storage.Store, error) {
	switch cfg.Engine {
	case "sqlite", "":
		if err := os.MkdirAll(cfg.DataPath, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := sqlite.New(ctx, SQLitePath(cfg), sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage engine: %q", cfg.Engine)
	}
}

// OpenBlobs opens the raw payload store. The dir backend lives under the
// data path.
func OpenBlobs(ctx context.Context, storageCfg config.StorageConfig, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case "dir", "":
		return blob.NewDirStore(filepath.Join(storageCfg.DataPath, "blobs"))
	case "minio":
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported blob backend: %q", cfg.Backend)
	}
}

// OpenQueue builds the configured job queue.
func OpenQueue(cfg config.QueueConfig, logger *log.Logger) (queue.Queue, error) {
	opts := queue.Options{
		Workers:    cfg.Workers,
		Size:       cfg.Size,
		MaxRetries: cfg.MaxRetries,
		OnDrop: func(job *queue.Job, reason error) {
			logger.Error("job abandoned", "job", job.ID, "type", job.Type, "attempt", job.Attempt, "reason", reason)
		},
	}
	switch cfg.Backend {
	case "memory", "":
		return queue.NewMemoryQueue(opts, logger), nil
	case "kafka":
		return queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers:     cfg.KafkaBrokerList(),
			TopicPrefix: cfg.KafkaTopicPrefix,
			GroupID:     cfg.KafkaGroupID,
		}, opts, logger)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %q", cfg.Backend)
	}
}
