package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupLayout keeps rotated file names lexically ordered by rotation time.
const backupLayout = "20060102T150405.000000000"

// sizeRotator appends to a single file and, once the next write would push it
// past maxBytes, renames it to "<path>.<UTC timestamp>" and starts a new one.
// Backups beyond keep, or older than maxAge, are removed after each rotation.
type sizeRotator struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	keep     int
	maxAge   time.Duration
	now      func() time.Time

	out     *os.File
	written int64
}

func newSizeRotator(path string, maxSizeMB, keep, maxAgeDays int) (*sizeRotator, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rotating log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &sizeRotator{
		path:     path,
		maxBytes: int64(orDefault(maxSizeMB, 100)) << 20,
		keep:     orDefault(keep, 7),
		maxAge:   time.Duration(orDefault(maxAgeDays, 30)) * 24 * time.Hour,
		now:      time.Now,
	}, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Write implements io.Writer. A single record is never split across files.
func (r *sizeRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.open(); err != nil {
		return 0, err
	}
	if r.written > 0 && r.written+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.out.Write(p)
	r.written += int64(n)
	return n, err
}

// Close releases the current file; a later Write reopens it.
func (r *sizeRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return nil
	}
	err := r.out.Close()
	r.out = nil
	r.written = 0
	return err
}

func (r *sizeRotator) open() error {
	if r.out != nil {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", r.path, err)
	}
	r.out = f
	r.written = info.Size()
	return nil
}

func (r *sizeRotator) rotate() error {
	if err := r.out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", r.path, err)
	}
	r.out = nil
	r.written = 0

	backup := r.path + "." + r.now().UTC().Format(backupLayout)
	if err := os.Rename(r.path, backup); err != nil {
		return fmt.Errorf("rotate %s: %w", r.path, err)
	}
	r.prune()
	return r.open()
}

// prune removes the oldest backups past keep and any backup older than maxAge.
func (r *sizeRotator) prune() {
	backups := r.backups()
	cutoff := r.now().UTC().Add(-r.maxAge)
	for i, name := range backups {
		stamp, err := time.Parse(backupLayout, strings.TrimPrefix(name, r.path+"."))
		expired := err == nil && stamp.Before(cutoff)
		if expired || i < len(backups)-r.keep {
			_ = os.Remove(name)
		}
	}
}

// backups returns rotated files ordered from oldest to newest.
func (r *sizeRotator) backups() []string {
	matches, err := filepath.Glob(r.path + ".*")
	if err != nil {
		return nil
	}
	out := matches[:0]
	for _, name := range matches {
		if _, err := time.Parse(backupLayout, strings.TrimPrefix(name, r.path+".")); err == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
