package projector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the write bursts editors produce into one reload.
const reloadDelay = 200 * time.Millisecond

// Logger defines the logging interface used by the projector package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Catalog holds the loaded projector profiles.
//
// Thread Safety:
//   - All methods are safe for concurrent use. A reload swaps the whole
//     profile set; readers see either the old or the new set.
type Catalog struct {
	path   string
	logger Logger

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// LoadCatalog reads and compiles the profile file at path.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: filepath.Clean(path), logger: noopLogger{}}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCatalog wraps already compiled profiles. The catalog has no file
// and Reload is a no-op.
func NewCatalog(profiles map[string]*Profile) *Catalog {
	return &Catalog{profiles: profiles, logger: noopLogger{}}
}

// SetLogger sets the logger for the catalog.
func (c *Catalog) SetLogger(logger Logger) {
	c.logger = logger
}

// Profile returns the profile called name.
func (c *Catalog) Profile(name string) (*Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[name]
	return p, ok
}

// Names returns the loaded profile names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload re-reads the profile file. On error the current profiles stay
// in place.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reading profiles: %w", err)
	}
	profiles, err := ParseProfiles(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.profiles = profiles
	c.mu.Unlock()
	return nil
}

// Watch reloads the catalog whenever the profile file changes, until ctx
// ends. The parent directory is watched so atomic renames by editors and
// config management are seen.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating profile watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck // shutdown path

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	c.logger.Info("watching projector profiles", "path", c.path)

	reload := time.NewTimer(reloadDelay)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != c.path || !isChange(ev) {
				continue
			}
			reload.Reset(reloadDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("profile watcher error", "error", err)
		case <-reload.C:
			if err := c.Reload(); err != nil {
				c.logger.Error("profile reload failed, keeping previous profiles", "path", c.path, "error", err)
				continue
			}
			c.logger.Info("projector profiles reloaded", "path", c.path, "profiles", c.Names())
		}
	}
}

func isChange(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
