package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/recollect/internal/engine"
)

const (
	eventExt = ".event"

	// DefaultEventMaxAge is how long an unconsumed event file is kept.
	DefaultEventMaxAge = time.Hour

	pruneEvery = 256
)

// FileSink writes every step event as a file in dir. Files appear
// atomically, so a Watcher never reads a partial event. Files nobody
// consumed are pruned once older than the sink's max age.
type FileSink struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
	seq    atomic.Uint64
	logger *log.Logger
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithMaxAge sets how long unconsumed event files are kept.
func WithMaxAge(d time.Duration) FileSinkOption {
	return func(s *FileSink) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// NewFileSink creates dir if needed and prunes stale files left in it.
func NewFileSink(dir string, logger *log.Logger, opts ...FileSinkOption) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("notify: mkdir %s: %w", dir, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &FileSink{dir: dir, maxAge: DefaultEventMaxAge, now: time.Now, logger: logger.WithPrefix("notify")}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.Prune(); err != nil {
		s.logger.Warn("failed to prune event files", "dir", dir, "err", err)
	}
	return s, nil
}

// StepEvent writes ev. Failures are logged, never returned to the pipeline.
func (s *FileSink) StepEvent(ev engine.StepEvent) {
	if err := s.write(ev); err != nil {
		s.logger.Warn("failed to write event file", "document", ev.DocumentID, "err", err)
	}
}

func (s *FileSink) write(ev engine.StepEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	seq := s.seq.Add(1)
	if seq%pruneEvery == 0 {
		if _, err := s.Prune(); err != nil {
			s.logger.Warn("failed to prune event files", "dir", s.dir, "err", err)
		}
	}

	name := fmt.Sprintf("%020d-%06d-%s", ev.At.UnixNano(), seq%1000000, sanitizeID(ev.DocumentID))
	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name+eventExt)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Prune removes event files, and temp files of interrupted writes, older
// than the max age. It returns the number of files removed.
func (s *FileSink) Prune() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("notify: read %s: %w", s.dir, err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var at time.Time
		switch {
		case strings.HasSuffix(name, eventExt):
			at = eventTime(name)
		case strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp"):
			info, err := entry.Info()
			if err != nil {
				continue
			}
			at = info.ModTime()
		default:
			continue
		}
		if at.IsZero() || !at.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("pruned event files", "count", removed)
	}
	return removed, nil
}

// eventTime reads the timestamp prefix of an event file name.
func eventTime(name string) time.Time {
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}
	}
	nanos, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == ':' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, id)
}

// Watcher delivers events written by a FileSink, possibly in another
// process. Each file is consumed once: it is removed after reading, so
// concurrent watchers on one directory split the events between them.
type Watcher struct {
	dir      string
	callback func(engine.StepEvent)
	logger   *log.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, logger *log.Logger, callback func(engine.StepEvent)) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		dir:      dir,
		callback: callback,
		logger:   logger.WithPrefix("notify"),
		done:     make(chan struct{}),
	}
}

// Start delivers any events already on disk, oldest first, then watches for
// new ones until Stop.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	// Drain after the watch is in place so nothing written in between is missed.
	w.drainExisting()

	go w.loop()
	w.logger.Debug("watching for progress events", "dir", w.dir)
	return nil
}

// Stop closes the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(ev.Name, eventExt) {
				w.consume(ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) drainExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), eventExt) {
			w.consume(filepath.Join(w.dir, entry.Name()))
		}
	}
}

func (w *Watcher) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // consumed by another watcher
	}
	if err := os.Remove(path); err != nil {
		return
	}

	var ev engine.StepEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		w.logger.Warn("invalid event file", "file", filepath.Base(path), "err", err)
		return
	}
	if w.callback != nil {
		w.callback(ev)
	}
}

// Fanout forwards each event to every observer in order.
type Fanout []engine.Observer

// StepEvent implements engine.Observer.
func (f Fanout) StepEvent(ev engine.StepEvent) {
	for _, o := range f {
		if o != nil {
			o.StepEvent(ev)
		}
	}
}
