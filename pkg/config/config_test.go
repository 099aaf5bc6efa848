package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/assocminer/pkg/errs"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadFromEnv()
		assert.Equal(t, 0.75, cfg.Mine.Confidence)
		assert.Equal(t, 0.10, cfg.Mine.Significance)
		assert.Equal(t, 0.15, cfg.Mine.Difference)
		assert.Equal(t, 0, cfg.Mine.OffsetPixels)
		assert.False(t, cfg.Mine.BlackWhite)
		assert.Equal(t, 1, cfg.Mine.Threads)
		assert.Equal(t, 8, cfg.Mine.MaxDepth)
		assert.Nil(t, cfg.Mine.Targets)
		assert.Equal(t, "INFO", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format)
		require.NoError(t, cfg.Validate())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("ASSOCMINER_CONFIDENCE", "0.5")
		t.Setenv("ASSOCMINER_SIGNIFICANCE", "0.2")
		t.Setenv("ASSOCMINER_OFFSET", "-2")
		t.Setenv("ASSOCMINER_BLACK_WHITE", "yes")
		t.Setenv("ASSOCMINER_THREADS", "4")
		t.Setenv("ASSOCMINER_TARGETS", "ev1, ev2,,")
		t.Setenv("ASSOCMINER_LOG_LEVEL", "debug")

		cfg := LoadFromEnv()
		assert.Equal(t, 0.5, cfg.Mine.Confidence)
		assert.Equal(t, 0.2, cfg.Mine.Significance)
		assert.Equal(t, -2, cfg.Mine.OffsetPixels)
		assert.True(t, cfg.Mine.BlackWhite)
		assert.Equal(t, 4, cfg.Mine.Threads)
		assert.Equal(t, []string{"ev1", "ev2"}, cfg.Mine.Targets)
		require.NoError(t, cfg.Validate())
	})

	t.Run("unparsable_values_keep_defaults", func(t *testing.T) {
		t.Setenv("ASSOCMINER_THREADS", "many")
		t.Setenv("ASSOCMINER_CONFIDENCE", "high")
		cfg := LoadFromEnv()
		assert.Equal(t, 1, cfg.Mine.Threads)
		assert.Equal(t, 0.75, cfg.Mine.Confidence)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"confidence_above_one", func(c *Config) { c.Mine.Confidence = 1.5 }},
		{"negative_significance", func(c *Config) { c.Mine.Significance = -0.1 }},
		{"difference_nan", func(c *Config) { c.Mine.Difference = nan() }},
		{"zero_threads", func(c *Config) { c.Mine.Threads = 0 }},
		{"zero_depth", func(c *Config) { c.Mine.MaxDepth = 0 }},
		{"depth_too_large", func(c *Config) { c.Mine.MaxDepth = MaxDepthLimit + 1 }},
		{"bad_level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"bad_format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadFromEnv()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func TestWorkspaceConfig(t *testing.T) {
	t.Run("save_and_load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), WorkspaceFile)
		created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		w := &WorkspaceConfig{SecondsPerPixel: 60, NodesPerPixel: 4, CreatedAt: created}
		require.NoError(t, w.Save(path))

		got, err := LoadWorkspace(path)
		require.NoError(t, err)
		assert.Equal(t, int64(60), got.SecondsPerPixel)
		assert.Equal(t, uint64(4), got.NodesPerPixel)
		assert.True(t, created.Equal(got.CreatedAt))
	})

	t.Run("missing_fields_use_defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), WorkspaceFile)
		require.NoError(t, os.WriteFile(path, []byte("nodes_per_pixel: 2\n"), 0o644))

		got, err := LoadWorkspace(path)
		require.NoError(t, err)
		assert.Equal(t, int64(DefaultSecondsPerPixel), got.SecondsPerPixel)
		assert.Equal(t, uint64(2), got.NodesPerPixel)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadWorkspace(filepath.Join(t.TempDir(), "none.yaml"))
		assert.True(t, errors.Is(err, errs.ErrNotFound))
	})

	t.Run("invalid_geometry", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), WorkspaceFile)
		require.NoError(t, os.WriteFile(path, []byte("seconds_per_pixel: 0\n"), 0o644))
		_, err := LoadWorkspace(path)
		assert.True(t, errors.Is(err, errs.ErrStorage))
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), WorkspaceFile)
		require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))
		_, err := LoadWorkspace(path)
		assert.True(t, errors.Is(err, errs.ErrStorage))
	})
}

func TestMineConfig_String(t *testing.T) {
	m := LoadFromEnv().Mine
	assert.Contains(t, m.String(), "K: 0.75")
}
