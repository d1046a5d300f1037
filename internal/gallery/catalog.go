// Package gallery serves the read-only photo catalog backed by photos.json.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gallery/internal/metadata"
)

const (
	reloadDelay     = 100 * time.Millisecond
	fallbackTimeout = 5 * time.Second
)

// Source supplies catalog records when the metadata file is missing or
// cannot be parsed. *storage.Store satisfies it.
type Source interface {
	Photos(ctx context.Context) ([]metadata.Record, error)
}

// Catalog holds the current snapshot of the metadata file.
type Catalog struct {
	path     string
	fallback Source
	log      *slog.Logger

	mu     sync.RWMutex
	photos []metadata.Record
	index  map[string]int

	subsMu sync.Mutex
	subs   []func(count int)
}

// Open loads the metadata file at path. A missing file gives an empty catalog.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	return OpenWithFallback(path, nil, logger)
}

// OpenWithFallback is Open with a secondary record source, used whenever the
// metadata file is missing or unparseable and the source has records.
func OpenWithFallback(path string, fallback Source, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{path: filepath.Clean(path), fallback: fallback, log: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path is the metadata file backing the catalog.
func (c *Catalog) Path() string { return c.path }

// Snapshot returns the records in file order.
func (c *Catalog) Snapshot() []metadata.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.photos)
}

// Find looks a record up by filename.
func (c *Catalog) Find(filename string) (metadata.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[filename]
	if !ok {
		return metadata.Record{}, false
	}
	return c.photos[i], true
}

// Reload re-reads the metadata file, falling back to the secondary source
// when the file is unusable. On error the previous snapshot is kept.
func (c *Catalog) Reload() error {
	photos, err := load(c.path)
	if err != nil {
		if stored, ok := c.fromFallback(); ok {
			c.log.Warn("metadata file unusable, serving catalog from database", "path", c.path, "error", err)
			photos, err = stored, nil
		} else if errors.Is(err, os.ErrNotExist) {
			photos, err = []metadata.Record{}, nil
		}
	}
	if err != nil {
		return err
	}
	for _, p := range photos {
		c.log.Debug("loaded photo", "filename", p.Filename, "camera", metadata.Format(p.Camera))
	}

	index := make(map[string]int, len(photos))
	for i, p := range photos {
		if _, dup := index[p.Filename]; !dup {
			index[p.Filename] = i
		}
	}

	c.mu.Lock()
	c.photos = photos
	c.index = index
	c.mu.Unlock()

	c.log.Info("catalog loaded", "path", c.path, "photos", len(photos))
	c.notify(len(photos))
	return nil
}

// OnReload registers fn to be called with the photo count after every reload.
func (c *Catalog) OnReload(fn func(count int)) {
	c.subsMu.Lock()
	c.subs = append(c.subs, fn)
	c.subsMu.Unlock()
}

func (c *Catalog) notify(count int) {
	c.subsMu.Lock()
	subs := slices.Clone(c.subs)
	c.subsMu.Unlock()
	for _, fn := range subs {
		fn(count)
	}
}

// Watch reloads the catalog whenever the metadata file is written, created or
// renamed into place. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	c.log.Info("watching metadata file", "path", c.path)

	// bursts of events (temp file + rename) collapse into one reload
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != c.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("metadata watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := c.Reload(); err != nil {
				c.log.Warn("catalog reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}

func (c *Catalog) fromFallback() ([]metadata.Record, bool) {
	if c.fallback == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), fallbackTimeout)
	defer cancel()
	photos, err := c.fallback.Photos(ctx)
	if err != nil {
		c.log.Warn("read catalog from database", "error", err)
		return nil, false
	}
	return photos, len(photos) > 0
}

func load(path string) ([]metadata.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var photos []metadata.Record
	if err := json.Unmarshal(data, &photos); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if photos == nil {
		photos = []metadata.Record{}
	}
	return photos, nil
}
