// Package cache manages the gateway's pass-through artifact directory:
// generated files (zipped mail threads) are written under unique
// subdirectories, streamed back by relative path, and expired by a
// janitor. The cache carries no invalidation semantics; entries are
// ephemeral by TTL only.
package cache

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// Gauges reflect the cache contents for the /metrics endpoint. Updated by
// the janitor's sweep and nudged by filesystem notifications in between.
var (
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "files_api_cache_entries",
		Help: "Number of files currently in the artifact cache.",
	})
	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "files_api_cache_bytes",
		Help: "Total size in bytes of the artifact cache.",
	})
)

// sweepInterval is how often the janitor scans for expired entries.
const sweepInterval = 10 * time.Minute

// Manager owns one cache directory tree: generated/ for artifacts handed
// out by relative path and staging/ for in-flight upload spooling.
type Manager struct {
	root   string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates the cache directories under root. A zero ttl disables
// expiry.
func New(root string, ttl time.Duration, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{abs, filepath.Join(abs, "generated"), filepath.Join(abs, "staging")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	return &Manager{root: abs, ttl: ttl, logger: logger}, nil
}

// Root returns the absolute cache root.
func (m *Manager) Root() string { return m.root }

// ScratchDir creates a fresh uniquely named working directory for
// assembling a generated artifact. Callers remove it when done; the
// janitor catches leaks.
func (m *Manager) ScratchDir() (string, error) {
	dir := filepath.Join(m.root, "staging", uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	return dir, nil
}

// Stage spools an upload payload to a temporary file and returns its path.
// The caller removes the file once the adapter has consumed it.
func (m *Manager) Stage(r io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(filepath.Join(m.root, "staging"), "upload-*")
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}

	return f.Name(), n, nil
}

// Create opens a new artifact file under generated/<uuid>/name and returns
// the writer plus the relative path clients use to retrieve it.
func (m *Manager) Create(name string) (io.WriteCloser, string, error) {
	rel := filepath.ToSlash(filepath.Join("generated", uuid.NewString(), name))

	full := filepath.Join(m.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, "", err
	}

	f, err := os.Create(full)
	if err != nil {
		return nil, "", err
	}

	return f, rel, nil
}

// Open streams a previously generated artifact back by its relative path.
// The path is validated against traversal before touching the filesystem.
func (m *Manager) Open(rel string) (*os.File, os.FileInfo, error) {
	if err := provider.ValidatePath(rel); err != nil {
		return nil, nil, err
	}

	full := filepath.Join(m.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, m.root+string(filepath.Separator)) {
		return nil, nil, provider.Errorf(provider.ErrBadRequest, "cache path %q escapes the cache root", rel)
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, provider.Errorf(provider.ErrNotFound, "no cached file at %q", rel)
		}

		return nil, nil, provider.WrapError(provider.ErrProviderInteraction, "opening cached file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, provider.WrapError(provider.ErrProviderInteraction, "reading cached file metadata", err)
	}

	return f, info, nil
}

// Run operates the janitor until ctx is canceled: periodic TTL sweeps,
// with filesystem notifications keeping the metrics gauges fresh between
// sweeps.
func (m *Manager) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Join(m.root, "generated")); err != nil {
		return err
	}

	m.sweep()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			m.measure()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			m.logger.Warn("cache watcher error", slog.String("error", err.Error()))
		}
	}
}

// sweep removes expired artifacts and empty scratch leftovers, then
// refreshes the gauges.
func (m *Manager) sweep() {
	if m.ttl > 0 {
		cutoff := time.Now().Add(-m.ttl)

		for _, sub := range []string{"generated", "staging"} {
			m.expire(filepath.Join(m.root, sub), cutoff)
		}
	}

	m.measure()
}

// expire removes entries directly under dir older than cutoff. Artifacts
// live one directory level down, so whole entry directories go at once.
func (m *Manager) expire(dir string, cutoff time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warn("cache sweep failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			full := filepath.Join(dir, entry.Name())
			if err := os.RemoveAll(full); err != nil {
				m.logger.Warn("removing expired cache entry",
					slog.String("path", full),
					slog.String("error", err.Error()),
				)

				continue
			}

			m.logger.Debug("expired cache entry", slog.String("path", full))
		}
	}
}

// measure walks the generated tree and updates the gauges.
func (m *Manager) measure() {
	var files int64
	var bytes int64

	_ = filepath.WalkDir(filepath.Join(m.root, "generated"), func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}

		if info, err := d.Info(); err == nil {
			files++
			bytes += info.Size()
		}

		return nil
	})

	cacheEntries.Set(float64(files))
	cacheBytes.Set(float64(bytes))
}
