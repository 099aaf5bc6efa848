// Package config handles assocminer configuration.
//
// Two kinds of configuration exist:
//
//   - Workspace configuration, persisted as <workspace>/workspace.yaml when
//     the workspace is created and read by every later command. It fixes the
//     pixel geometry, which must never change once images exist.
//   - Run configuration (mining thresholds, threads, logging), loaded from
//     environment variables with LoadFromEnv and then overridden by CLI
//     flags.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	cfg.Mine.Threads = 8 // flag override
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//   - ASSOCMINER_CONFIDENCE=0.75
//   - ASSOCMINER_SIGNIFICANCE=0.10
//   - ASSOCMINER_DIFFERENCE=0.15
//   - ASSOCMINER_OFFSET=0
//   - ASSOCMINER_BLACK_WHITE=false
//   - ASSOCMINER_THREADS=1
//   - ASSOCMINER_MAX_DEPTH=8
//   - ASSOCMINER_TARGETS="ev1,ev2"
//   - ASSOCMINER_LOG_LEVEL=INFO
//   - ASSOCMINER_LOG_FORMAT=text
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/assocminer/pkg/errs"
)

// Defaults.
const (
	DefaultSecondsPerPixel = 3600
	DefaultNodesPerPixel   = 1
	DefaultConfidence      = 0.75
	DefaultSignificance    = 0.10
	DefaultDifference      = 0.15
	DefaultThreads         = 1
	DefaultMaxDepth        = 8

	// MaxDepthLimit mirrors the hard antecedent bound of the miner.
	MaxDepthLimit = 32

	// WorkspaceFile is the workspace configuration file name.
	WorkspaceFile = "workspace.yaml"
)

// Config holds the run configuration.
type Config struct {
	Mine    MineConfig
	Logging LoggingConfig
}

// MineConfig holds the search parameters of one mining run.
type MineConfig struct {
	// Confidence is the acceptance threshold K: a rule is accepted when
	// |A∩T|/|A| > K.
	Confidence float64

	// Significance is the pruning threshold S: a candidate is discarded
	// when |A∩T|/|T| < S.
	Significance float64

	// Difference is the pruning threshold D: a child is discarded when its
	// antecedent narrows its parent's by less than D, relatively.
	Difference float64

	// OffsetPixels shifts every target by this many pixels in time before
	// mining ("T occurs N pixels after A").
	OffsetPixels int

	// BlackWhite measures images by pixel count instead of occurrences.
	BlackWhite bool

	// Threads is the number of mining workers.
	Threads int

	// MaxDepth bounds antecedent length.
	MaxDepth int

	// Targets are the target image names.
	Targets []string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR.
	Level string
	// Format is text or json.
	Format string
}

// LoadFromEnv loads the run configuration from environment variables,
// applying defaults for everything unset or unparsable.
func LoadFromEnv() *Config {
	return &Config{
		Mine: MineConfig{
			Confidence:   getEnvFloat("ASSOCMINER_CONFIDENCE", DefaultConfidence),
			Significance: getEnvFloat("ASSOCMINER_SIGNIFICANCE", DefaultSignificance),
			Difference:   getEnvFloat("ASSOCMINER_DIFFERENCE", DefaultDifference),
			OffsetPixels: getEnvInt("ASSOCMINER_OFFSET", 0),
			BlackWhite:   getEnvBool("ASSOCMINER_BLACK_WHITE", false),
			Threads:      getEnvInt("ASSOCMINER_THREADS", DefaultThreads),
			MaxDepth:     getEnvInt("ASSOCMINER_MAX_DEPTH", DefaultMaxDepth),
			Targets:      getEnvStringSlice("ASSOCMINER_TARGETS", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnv("ASSOCMINER_LOG_LEVEL", "INFO"),
			Format: getEnv("ASSOCMINER_LOG_FORMAT", "text"),
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := c.Mine.Validate(); err != nil {
		return err
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// Validate checks thresholds, thread count and depth bound.
func (m *MineConfig) Validate() error {
	for _, th := range []struct {
		name string
		v    float64
	}{
		{"confidence", m.Confidence},
		{"significance", m.Significance},
		{"difference", m.Difference},
	} {
		if th.v < 0 || th.v > 1 || th.v != th.v {
			return fmt.Errorf("invalid %s threshold: %v (want 0..1)", th.name, th.v)
		}
	}
	if m.Threads < 1 {
		return fmt.Errorf("invalid thread count: %d", m.Threads)
	}
	if m.MaxDepth < 1 || m.MaxDepth > MaxDepthLimit {
		return fmt.Errorf("invalid max depth: %d (want 1..%d)", m.MaxDepth, MaxDepthLimit)
	}
	return nil
}

// String returns a compact representation for logging.
func (m MineConfig) String() string {
	return fmt.Sprintf("Mine{K: %g, S: %g, D: %g, offset: %d, bw: %v, threads: %d, depth: %d, targets: %d}",
		m.Confidence, m.Significance, m.Difference, m.OffsetPixels, m.BlackWhite,
		m.Threads, m.MaxDepth, len(m.Targets))
}

// WorkspaceConfig is the persisted workspace geometry.
type WorkspaceConfig struct {
	SecondsPerPixel int64     `yaml:"seconds_per_pixel"`
	NodesPerPixel   uint64    `yaml:"nodes_per_pixel"`
	CreatedAt       time.Time `yaml:"created_at"`
}

// DefaultWorkspace returns the default geometry.
func DefaultWorkspace() WorkspaceConfig {
	return WorkspaceConfig{
		SecondsPerPixel: DefaultSecondsPerPixel,
		NodesPerPixel:   DefaultNodesPerPixel,
	}
}

// Validate checks the pixel geometry.
func (w *WorkspaceConfig) Validate() error {
	if w.SecondsPerPixel <= 0 {
		return fmt.Errorf("invalid seconds per pixel: %d", w.SecondsPerPixel)
	}
	if w.NodesPerPixel == 0 {
		return fmt.Errorf("invalid nodes per pixel: %d", w.NodesPerPixel)
	}
	return nil
}

// LoadWorkspace reads a workspace.yaml file.
func LoadWorkspace(path string) (*WorkspaceConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.NotFound("load workspace", path)
	}
	if err != nil {
		return nil, errs.Storage("load workspace", err)
	}

	w := DefaultWorkspace()
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, errs.Storage("load workspace", fmt.Errorf("parsing %s: %w", path, err))
	}
	if err := w.Validate(); err != nil {
		return nil, errs.Storage("load workspace", err)
	}
	return &w, nil
}

// Save writes w to path.
func (w *WorkspaceConfig) Save(path string) error {
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling workspace config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Storage("save workspace", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
