package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/strataline/policygraph/identity"
)

// eventChannelBuffer is the size of the watch event channel.
const eventChannelBuffer = 256

// WatchConfig configures drop-directory watching.
type WatchConfig struct {
	// Enabled controls whether the watcher runs at all.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Dir is the drop directory to watch.
	Dir string `yaml:"dir" json:"dir"`

	// IncludeGlobs are doublestar patterns, relative to Dir, selecting
	// bundle files.
	IncludeGlobs []string `yaml:"include_globs" json:"include_globs"`

	// ExcludeDirs lists directory names skipped entirely.
	ExcludeDirs []string `yaml:"exclude_dirs" json:"exclude_dirs"`

	// DebounceDelay is how long to wait for more changes before emitting.
	// Bundles are written in one shot but not atomically; the delay also
	// rides out partially written files.
	DebounceDelay time.Duration `yaml:"debounce_delay" json:"debounce_delay"`

	// ImportExisting emits bundles already present in Dir at startup.
	ImportExisting bool `yaml:"import_existing" json:"import_existing"`
}

// DefaultWatchConfig returns default watch configuration.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:        false,
		Dir:            "drop",
		IncludeGlobs:   []string{"**/" + ManifestName, "*.bundle.json"},
		ExcludeDirs:    []string{".git", "tmp"},
		DebounceDelay:  500 * time.Millisecond,
		ImportExisting: true,
	}
}

// Validate validates the configuration.
func (c *WatchConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("watch dir must not be empty")
	}
	if len(c.IncludeGlobs) == 0 {
		return fmt.Errorf("at least one include glob is required")
	}
	for _, g := range c.IncludeGlobs {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid include glob %q", g)
		}
	}
	if c.DebounceDelay <= 0 {
		return fmt.Errorf("debounce_delay must be positive")
	}
	return nil
}

// WatchEvent reports one discovered or changed bundle.
type WatchEvent struct {
	// Path is relative to the drop directory.
	Path string

	// AbsPath is the absolute bundle path.
	AbsPath string
}

// Watcher watches the drop directory and emits an event per new or changed
// bundle. Content hashing suppresses re-writes of identical bytes, so one
// bundle dropped once is imported once even when the writer touches the
// file several times.
type Watcher struct {
	config   WatchConfig
	dir      string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	excludes map[string]bool

	pendingMu sync.Mutex
	pending   map[string]struct{}

	hashMu sync.RWMutex
	hashes map[string]string

	events chan WatchEvent

	droppedEvents atomic.Int64
}

// NewWatcher creates a drop-directory watcher.
func NewWatcher(config WatchConfig, logger *slog.Logger) (*Watcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watch config: %w", err)
	}
	// Everything downstream compares against fsnotify's absolute event
	// paths, so the root must be absolute too.
	absDir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve drop dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	excludes := make(map[string]bool, len(config.ExcludeDirs))
	for _, dir := range config.ExcludeDirs {
		excludes[dir] = true
	}

	return &Watcher{
		config:   config,
		dir:      absDir,
		watcher:  fsw,
		logger:   logger,
		excludes: excludes,
		pending:  make(map[string]struct{}),
		hashes:   make(map[string]string),
		events:   make(chan WatchEvent, eventChannelBuffer),
	}, nil
}

// Events returns the channel of watch events. It is closed when the watcher
// stops.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Start begins watching. When ImportExisting is set, bundles already in the
// drop directory are queued before live events flow.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create drop dir: %w", err)
	}
	if err := w.addWatchesRecursive(w.dir); err != nil {
		return err
	}

	if w.config.ImportExisting {
		if err := w.queueExisting(); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)

	w.logger.Info("drop watcher started",
		"dir", w.dir,
		"globs", w.config.IncludeGlobs,
		"debounce", w.config.DebounceDelay)
	return nil
}

// Stop closes the underlying filesystem watcher. The events channel is
// closed by the processing goroutine on its way out.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// DroppedEvents returns how many events were discarded because the channel
// was full.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

// matches reports whether the file at absolute path is a bundle per the
// include globs.
func (w *Watcher) matches(absPath string) bool {
	rel, err := filepath.Rel(w.dir, absPath)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if w.excludes[part] {
			return false
		}
	}
	for _, glob := range w.config.IncludeGlobs {
		if ok, _ := doublestar.Match(glob, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if w.excludes[base] || (strings.HasPrefix(base, ".") && path != root) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// queueExisting stages every bundle already present so a restart never
// strands files dropped while the process was down. Already-imported
// bundles re-fire here; importing them again registers a new document
// version, which the operator resolves by clearing the drop dir.
func (w *Watcher) queueExisting() error {
	for _, glob := range w.config.IncludeGlobs {
		matches, err := doublestar.FilepathGlob(filepath.Join(w.dir, filepath.FromSlash(glob)))
		if err != nil {
			return fmt.Errorf("scan existing bundles: %w", err)
		}
		for _, m := range matches {
			if !w.matches(m) {
				continue
			}
			w.pendingMu.Lock()
			w.pending[m] = struct{}{}
			w.pendingMu.Unlock()
		}
	}
	return nil
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.hashMu.Lock()
		delete(w.hashes, path)
		w.hashMu.Unlock()
		return
	}
	if !w.matches(path) {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()
}

func (w *Watcher) handleNewDirectory(path string) {
	base := filepath.Base(path)
	if w.excludes[base] || strings.HasPrefix(base, ".") {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("failed to watch new directory", "path", path, "error", err)
		return
	}

	// Files may have landed before the watch was in place.
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	w.pendingMu.Lock()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(path, e.Name())
		if w.matches(p) {
			w.pending[p] = struct{}{}
		}
	}
	w.pendingMu.Unlock()
}

// flushPending emits accumulated changes whose content actually changed.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := make([]string, 0, len(w.pending))
	for p := range w.pending {
		toProcess = append(toProcess, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for _, path := range toProcess {
		if ctx.Err() != nil {
			return
		}

		content, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("failed to read bundle", "path", path, "error", err)
			}
			continue
		}

		newHash := identity.ContentHash(string(content))
		w.hashMu.Lock()
		oldHash, had := w.hashes[path]
		w.hashes[path] = newHash
		w.hashMu.Unlock()
		if had && oldHash == newHash {
			continue
		}

		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			rel = path
		}
		w.sendEvent(WatchEvent{Path: rel, AbsPath: path})
	}
}

func (w *Watcher) sendEvent(event WatchEvent) {
	select {
	case w.events <- event:
		w.logger.Debug("bundle detected", "path", event.Path)
	default:
		dropped := w.droppedEvents.Add(1)
		w.logger.Warn("event channel full, dropping bundle event",
			"path", event.Path,
			"total_dropped", dropped)
	}
}
