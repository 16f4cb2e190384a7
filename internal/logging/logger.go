package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Identifier tags journal records and is the default syslog identifier.
const Identifier = "fxnode"

const historySize = 1000

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Use this interface instead of *slog.Logger to decouple from the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mutex       sync.RWMutex
	config      Config
	initialized bool
	loggers     = make(map[string]*slog.Logger)
	levels      = make(map[string]*slog.LevelVar)
	rootLevel   = &slog.LevelVar{}
	history     = NewHistory(historySize)

	// stdout is where text and json records go; replaced in tests.
	stdout io.Writer = os.Stdout
)

// Initialize applies cfg to the default logger and to every module logger,
// including the ones handed out before it was called.
func Initialize(cfg Config) {
	mutex.Lock()
	defer mutex.Unlock()

	config = cfg
	initialized = true
	rootLevel.Set(levelFor(""))

	for module, lv := range levels {
		lv.Set(levelFor(module))
		loggers[module] = slog.New(newHandler(cfg.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newHandler(cfg.Format, rootLevel)))
}

// GetLogger returns a logger for the specified module, creating it if needed.
// Loggers are cached; a logger obtained before Initialize picks up its level
// afterwards.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := loggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	lv.Set(levelFor(module))
	logger = slog.New(newHandler(config.Format, lv)).With("module", module)
	loggers[module] = logger
	levels[module] = lv
	return logger
}

// SetLevel changes the level of one module at runtime; "" changes the
// default level.
func SetLevel(module, level string) error {
	l, ok := ParseLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	if module == "" {
		rootLevel.Set(l)
		return nil
	}
	GetLogger(module)
	mutex.RLock()
	defer mutex.RUnlock()
	levels[module].Set(l)
	return nil
}

// Levels reports the current level of every module logger.
func Levels() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()
	out := make(map[string]string, len(levels)+1)
	out[""] = LevelName(rootLevel.Level())
	for module, lv := range levels {
		out[module] = LevelName(lv.Level())
	}
	return out
}

// levelFor resolves the configured level of a module. Caller holds mutex.
func levelFor(module string) slog.Level {
	if !initialized {
		return slog.LevelInfo
	}
	if s, ok := config.Modules[module]; ok {
		if l, ok := ParseLevel(s); ok {
			return l
		}
	}
	if l, ok := ParseLevel(config.Level); ok {
		return l
	}
	return slog.LevelInfo
}

// newHandler routes records to stdout (when something reads it), the
// journal (when running under systemd) and the in-memory history.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if format == "json" {
		console = slog.NewJSONHandler(stdout, opts)
	} else {
		console = slog.NewTextHandler(stdout, opts)
	}

	handlers := []slog.Handler{newHistoryHandler(history, level)}
	if stdout != os.Stdout || stdoutAttached() {
		handlers = append(handlers, console)
	}
	if JournalAvailable() {
		handlers = append(handlers, NewJournalHandler(Identifier, level))
	}
	return NewMultiHandler(handlers...)
}

// stdoutAttached reports whether stdout is a terminal, pipe, socket or file
// rather than /dev/null.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// LevelName converts a slog.Level to its lowercase name.
func LevelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
