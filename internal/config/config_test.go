package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/scrypster/recollect/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "dir", cfg.Blob.Backend)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.InDelta(t, 0.2, cfg.Search.MinSimilarity, 1e-9)
	assert.InDelta(t, 0.75, cfg.Versioning.MinSimilarity, 1e-9)
	assert.Equal(t, 1, cfg.Versioning.MaxParents)
	assert.Equal(t, config.ChunkingConfig{TargetSize: 1200, Overlap: 200, MaxSize: 1500, MinSize: 100}, cfg.Chunking)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RECOLLECT_SEARCH_TOP_K", "25")
	t.Setenv("RECOLLECT_SEARCH_MIN_SIMILARITY", "0.35")
	t.Setenv("RECOLLECT_CHUNK_OVERLAP", "120")
	t.Setenv("RECOLLECT_MINIO_USE_SSL", "YES")
	t.Setenv("RECOLLECT_LOG_LEVEL", "debug")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Search.TopK)
	assert.InDelta(t, 0.35, cfg.Search.MinSimilarity, 1e-9)
	assert.Equal(t, 120, cfg.Chunking.Overlap)
	assert.True(t, cfg.Blob.MinioUseSSL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Clamps(t *testing.T) {
	t.Setenv("RECOLLECT_SEARCH_TOP_K", "500")
	t.Setenv("RECOLLECT_VERSIONING_MAX_PARENTS", "9")
	t.Setenv("RECOLLECT_VERSIONING_MIN_SIMILARITY", "1.7")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.MaxSearchTopK, cfg.Search.TopK)
	assert.Equal(t, config.MaxVersioningParents, cfg.Versioning.MaxParents)
	assert.InDelta(t, 1.0, cfg.Versioning.MinSimilarity, 1e-9)

	t.Setenv("RECOLLECT_SEARCH_TOP_K", "0")
	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Search.TopK)
}

func TestLoad_InvalidNumberKeepsDefault(t *testing.T) {
	t.Setenv("RECOLLECT_SEARCH_TOP_K", "many")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Search.TopK)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recollect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  data_path: /var/lib/recollect
search:
  top_k: 7
queue:
  workers: 4
`), 0o600))

	t.Setenv("RECOLLECT_QUEUE_WORKERS", "8")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/recollect", cfg.Storage.DataPath)
	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, 8, cfg.Queue.Workers, "env must override the file")
	assert.Equal(t, "sqlite", cfg.Storage.Engine, "unset keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("RECOLLECT_STORAGE_ENGINE", "postgres")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "RECOLLECT_POSTGRES_DSN")

	t.Setenv("RECOLLECT_POSTGRES_DSN", "postgres://localhost/recollect")
	t.Setenv("RECOLLECT_QUEUE_BACKEND", "carrier-pigeon")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestKafkaBrokerList(t *testing.T) {
	q := config.QueueConfig{KafkaBrokers: " a:9092, ,b:9092 "}
	assert.Equal(t, []string{"a:9092", "b:9092"}, q.KafkaBrokerList())
}

func TestLoad_BackupDefaults(t *testing.T) {
	t.Setenv("RECOLLECT_DATA_PATH", "/var/lib/recollect")
	t.Setenv("RECOLLECT_BACKUP_KEEP_DAILY", "-3")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/var/lib/recollect", "backups"), cfg.Backup.Dir)
	assert.Equal(t, 0, cfg.Backup.IntervalMinutes)
	assert.Equal(t, 24, cfg.Backup.KeepHourly)
	assert.Equal(t, 0, cfg.Backup.KeepDaily)

	t.Setenv("RECOLLECT_BACKUP_DIR", "/mnt/snapshots")
	cfg, err = config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/snapshots", cfg.Backup.Dir)
}
