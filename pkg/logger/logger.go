package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes the loggers of one sonicpilotd process.
type Config struct {
	Service     string
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls where wizard outcome records are written.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu       sync.RWMutex
	app      *slog.Logger
	audit    *slog.Logger
	closers  []io.Closer
	fallback = sync.OnceValue(func() *slog.Logger {
		return slog.New(contextHandler{slog.NewJSONHandler(os.Stdout, nil)}).
			With(slog.String("service", serviceName("")))
	})
)

// Init installs the application and audit loggers. Records logged through
// the *Context methods carry the attributes attached with WithAttrs. Init
// fails when called twice so that log files are never opened again.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if app != nil {
		return errors.New("logger already initialised")
	}

	out, err := openOutputs(cfg.OutputPaths)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	}
	service := slog.String("service", serviceName(cfg.Service))
	base := slog.New(contextHandler{handler}).With(service)

	// Audit records are self-contained and skip the request attributes.
	auditLog := slog.New(handler).With(service, slog.String("log", "audit"))
	if cfg.Audit.Enabled {
		rotator, err := newSizeRotator(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			return err
		}
		closers = append(closers, rotator)
		auditLog = slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelInfo})).
			With(service, slog.String("log", "audit"))
	}

	app, audit = base, auditLog
	slog.SetDefault(base)
	return nil
}

// openOutputs merges the configured outputs into one writer. "stdout" and
// "stderr" name the process streams; anything else is a file that is
// created together with its directory.
func openOutputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(strings.TrimSpace(path)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			closers = append(closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the application logger, or a stdout JSON logger before Init.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if app == nil {
		return fallback()
	}
	return app
}

// Audit returns the logger for wizard outcome records.
func Audit() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if audit == nil {
		return fallback().With(slog.String("log", "audit"))
	}
	return audit
}

// Sync closes every file opened by Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}

// Named returns a child logger tagged with a component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func serviceName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "sonicpilot"
	}
	return name
}
