package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envbme/pkg/covariance"
	"envbme/pkg/geometry"
)

// TestDefaultConfig verifies sane defaults for a fresh installation
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, covariance.Exponential.String(), cfg.Covariance.Family)
	assert.Greater(t, cfg.Covariance.Initial.Sill, 0.0)
	assert.Greater(t, cfg.Covariance.SpatialBins, 0)
	assert.Greater(t, cfg.Covariance.MaxIterations, 0)

	assert.Equal(t, 40, cfg.Solver.Neighborhood.MaxHard)
	assert.Equal(t, 10, cfg.Solver.Neighborhood.MaxSoft)
	assert.Equal(t, geometry.Planar, cfg.Solver.Convention)

	assert.Greater(t, cfg.Processing.NumCores, 0)
	assert.True(t, cfg.Output.Verbose)
}

// TestLoadConfigMissingFile verifies a missing file yields the defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Covariance.Family, cfg.Covariance.Family)
}

// TestSaveAndLoadConfig verifies a round trip preserves every section
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "envbme.yaml")

	cfg := DefaultConfig()
	cfg.Covariance.Family = covariance.NonSeparable.String()
	cfg.Covariance.Initial.Interaction = 0.4
	cfg.Covariance.Sectors = []float64{0, 45, 90, 135}
	cfg.Solver.Neighborhood.MaxHard = 25
	cfg.Solver.Convention = geometry.Geographic
	cfg.Smoothing.Enabled = true
	cfg.Cache.Dir = "/tmp/bme-cache"
	cfg.Cache.RunName = "winter-2025"
	cfg.Processing.CrossValidate = true

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Covariance.Family, loaded.Covariance.Family)
	assert.Equal(t, cfg.Covariance.Initial.Interaction, loaded.Covariance.Initial.Interaction)
	assert.Equal(t, cfg.Covariance.Sectors, loaded.Covariance.Sectors)
	assert.Equal(t, 25, loaded.Solver.Neighborhood.MaxHard)
	assert.Equal(t, geometry.Geographic, loaded.Solver.Convention)
	assert.True(t, loaded.Smoothing.Enabled)
	assert.Equal(t, "winter-2025", loaded.Cache.RunName)
	assert.True(t, loaded.Processing.CrossValidate)
}

// TestLoadConfigRejectsGarbage verifies parse errors surface
func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("covariance: ["), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

// TestCreateDefaultConfigFile verifies the bootstrap helper writes a
// loadable file
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Solver.Neighborhood.MaxHard, loaded.Solver.Neighborhood.MaxHard)
}
