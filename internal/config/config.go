package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvGraphDir  = "CARDBOX_GRAPH_DIR"
	EnvPagesDir  = "CARDBOX_PAGES_DIR"
	EnvGraphName = "CARDBOX_GRAPH_NAME"
	EnvLogLevel  = "CARDBOX_LOG_LEVEL"
)

// Config holds application configuration.
type Config struct {
	// SummaryMaxChars is the character budget of a card summary
	SummaryMaxChars int `json:"summary_max_chars"`

	// RebuildBatchSize is how many pages a rebuild processes concurrently
	RebuildBatchSize int `json:"rebuild_batch_size"`

	// RebuildBatchDelayMs is the pause after each rebuild batch so readers
	// can observe it before the next one lands.
	RebuildBatchDelayMs int `json:"rebuild_batch_delay_ms"`

	// LookAheadScreens is how many screens beyond the viewport the card window preloads
	LookAheadScreens int `json:"lookahead_screens"`

	// SkipPages lists page names (case-insensitive) never indexed.
	// "contents" is skipped by default because its file time is not reliable.
	SkipPages []string `json:"skip_pages,omitempty"`

	// GraphDir is the root of the local graph (the folder holding pages/ and journals/).
	GraphDir string `json:"graph_dir,omitempty"`

	// PagesDir is the directory handle used for file modification times.
	// Empty means "not selected": host timestamps are used instead.
	PagesDir string `json:"pages_dir,omitempty"`

	// GraphName overrides the graph identifier reported by the host.
	GraphName string `json:"graph_name,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SummaryMaxChars:     100,
		RebuildBatchSize:    100,
		RebuildBatchDelayMs: 50,
		LookAheadScreens:    3,
		SkipPages:           []string{"contents"},
		LogLevel:            "info",
	}
}

// BatchDelay returns RebuildBatchDelayMs as a duration.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.RebuildBatchDelayMs) * time.Millisecond
}

// Load loads configuration from baseDir/config.json, then applies environment
// overrides (a .env file in the working directory is read first if present).
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.cardbox.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}

	// A missing .env is fine
	_ = godotenv.Load()

	return ApplyEnv(cfg), nil
}

// ApplyEnv overlays environment variables on cfg and returns it.
func ApplyEnv(cfg *Config) *Config {
	if v := strings.TrimSpace(os.Getenv(EnvGraphDir)); v != "" {
		cfg.GraphDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPagesDir)); v != "" {
		cfg.PagesDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGraphName)); v != "" {
		cfg.GraphName = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.SummaryMaxChars = firstNonZero(overlay.SummaryMaxChars, base.SummaryMaxChars)
	result.RebuildBatchSize = firstNonZero(overlay.RebuildBatchSize, base.RebuildBatchSize)
	result.RebuildBatchDelayMs = firstNonZero(overlay.RebuildBatchDelayMs, base.RebuildBatchDelayMs)
	result.LookAheadScreens = firstNonZero(overlay.LookAheadScreens, base.LookAheadScreens)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.GraphDir = firstNonEmpty(overlay.GraphDir, base.GraphDir)
	result.PagesDir = firstNonEmpty(overlay.PagesDir, base.PagesDir)
	result.GraphName = firstNonEmpty(overlay.GraphName, base.GraphName)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)

	// Arrays: merge and deduplicate
	result.SkipPages = mergeStringSlice(base.SkipPages, overlay.SkipPages)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
