// Package backup takes point-in-time snapshots of the sqlite store and
// prunes them by age tier.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrNotFound is returned by Restore for an unknown snapshot name.
var ErrNotFound = errors.New("backup: snapshot not found")

const (
	filePrefix = "recollect-"
	fileSuffix = ".db"
	stampFmt   = "20060102T150405Z"
)

// Snapshot describes one backup file.
type Snapshot struct {
	Name  string    `json:"name"`
	Path  string    `json:"path"`
	Taken time.Time `json:"taken"`
	Size  int64     `json:"size"`
}

// Manager snapshots a single database file into a directory.
type Manager struct {
	dbPath string
	dir    string
	keep   Retention
	logger *log.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used to name and age snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager that snapshots dbPath into dir.
func NewManager(dbPath, dir string, keep Retention, logger *log.Logger, opts ...Option) (*Manager, error) {
	if dbPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if dir == "" {
		return nil, errors.New("backup: snapshot directory is required")
	}
	if logger == nil {
		return nil, errors.New("backup: logger is required")
	}
	m := &Manager{
		dbPath: dbPath,
		dir:    dir,
		keep:   keep,
		logger: logger.WithPrefix("backup"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create writes a verified snapshot and then applies the retention policy.
// A pruning failure is logged; the snapshot itself is still returned.
func (m *Manager) Create(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup: create directory: %w", err)
	}

	taken := m.now().UTC().Truncate(time.Second)
	name := filePrefix + taken.Format(stampFmt) + fileSuffix
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("backup: snapshot %s already exists", name)
	}

	start := time.Now()
	if err := vacuumInto(ctx, m.dbPath, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	if err := verify(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: stat snapshot: %w", err)
	}
	snap := &Snapshot{Name: name, Path: path, Taken: taken, Size: info.Size()}
	m.logger.Info("snapshot created", "name", name, "bytes", snap.Size, "duration", time.Since(start))

	if removed, err := m.prune(); err != nil {
		m.logger.Warn("retention failed", "err", err)
	} else if removed > 0 {
		m.logger.Debug("old snapshots removed", "count", removed)
	}
	return snap, nil
}

// List returns the snapshots in the directory, newest first. A missing
// directory yields no snapshots.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: read directory: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		taken, ok := parseName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Name:  e.Name(),
			Path:  filepath.Join(m.dir, e.Name()),
			Taken: taken,
			Size:  info.Size(),
		})
	}
	sortNewestFirst(snaps)
	return snaps, nil
}

// Restore replaces the database file with the named snapshot. The store
// must not be open while this runs.
func (m *Manager) Restore(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := parseName(name); !ok || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	src := filepath.Join(m.dir, name)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return fmt.Errorf("backup: stat snapshot: %w", err)
	}
	if err := verify(ctx, src); err != nil {
		return err
	}
	if err := replaceFile(src, m.dbPath); err != nil {
		return err
	}
	if err := verify(ctx, m.dbPath); err != nil {
		return fmt.Errorf("backup: restored database: %w", err)
	}
	m.logger.Info("snapshot restored", "name", name, "db", m.dbPath)
	return nil
}

// Run creates a snapshot every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("scheduled snapshots enabled", "interval", interval, "dir", m.dir)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Create(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("scheduled snapshot failed", "err", err)
			}
		}
	}
}

func (m *Manager) prune() (int, error) {
	snaps, err := m.List()
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, s := range m.keep.Expired(snaps, m.now()) {
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	t, err := time.Parse(stampFmt, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
