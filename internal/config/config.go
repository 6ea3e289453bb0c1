// Package config loads the catalogue engine's initialisation options
// (§6), following the teacher's env-with-fallback convention
// (CineVault's internal/config/config.go) and extending it with the
// in-process options a host application supplies directly rather than
// through the environment.
package config

import (
	"os"
	"strconv"

	"github.com/mediavault/libcatalog/internal/mlerrors"
)

// LogLevel mirrors the five levels enumerated in §6.
type LogLevel int

const (
	LogVerbose LogLevel = iota
	LogDebug
	LogInfo
	LogWarning
	LogError
)

func ParseLogLevel(s string) LogLevel {
	switch s {
	case "verbose":
		return LogVerbose
	case "debug":
		return LogDebug
	case "warning":
		return LogWarning
	case "error":
		return LogError
	default:
		return LogInfo
	}
}

// Logger is the injectable logging surface (§6 `logger` option). The
// default implementation is the bare stdlib `log` package, matching the
// teacher's own logging throughout (see DESIGN.md's ambient-stack
// justification).
type Logger interface {
	Logf(level LogLevel, format string, args ...interface{})
}

// Options are the initialisation options enumerated in §6.
type Options struct {
	DBPath        string
	MLFolderPath  string
	LockFile      bool
	Logger        Logger
	LogLevel      LogLevel
	ParserWorkers int
	// ExtraFSFactories and ExtraParserServices are populated by the host
	// application; the orchestrator registers them alongside the builtin
	// set. Left untyped here to avoid an import cycle — orchestrator
	// casts them to its own registration interfaces.
	ExtraFSFactories    []interface{}
	ExtraParserServices []interface{}
}

// Load builds Options from environment variables with the given
// fallbacks applied for anything left unset, mirroring
// internal/config/config.go's env()/envInt() helpers.
func Load() *Options {
	return &Options{
		DBPath:        env("ML_DB_PATH", "./catalogue.db"),
		MLFolderPath:  env("ML_FOLDER_PATH", "./ml"),
		LockFile:      envBool("ML_LOCK_FILE", true),
		LogLevel:      ParseLogLevel(env("ML_LOG_LEVEL", "info")),
		ParserWorkers: envInt("ML_PARSER_WORKERS", 3),
	}
}

// Validate reports a NotFoundError-flavoured error for options that are
// required but empty; the orchestrator rejects initialisation rather
// than silently defaulting a path that controls on-disk layout.
func (o *Options) Validate() error {
	if o.DBPath == "" {
		return mlerrors.NewNotFoundError("dbPath", "Options")
	}
	if o.MLFolderPath == "" {
		return mlerrors.NewNotFoundError("mlFolderPath", "Options")
	}
	if o.ParserWorkers <= 0 {
		o.ParserWorkers = 1
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
